package sqlite

import (
	"database/sql/driver"
	"fmt"
	"sync"

	"github.com/fyerfyer/lang-data/internal/vectordb"
	sqlite "modernc.org/sqlite"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// distanceFunctions SQL函数名到距离类型的映射
var distanceFunctions = map[vectordb.DistanceType]string{
	vectordb.Cosine:     "vec_cosine_distance",
	vectordb.DotProduct: "vec_dot",
	vectordb.Euclidean:  "vec_l2",
}

// registerFunctions 注册向量距离函数，只对之后打开的连接生效
// 注册只进行一次，失败时之后的每次调用都返回同一个错误
func registerFunctions() error {
	registerOnce.Do(func() {
		registerErr = registerAll(sqlite.RegisterDeterministicScalarFunction)
	})
	return registerErr
}

type registerFunc func(name string, nArgs int32, fn func(*sqlite.FunctionContext, []driver.Value) (driver.Value, error)) error

func registerAll(register registerFunc) error {
	for distType, name := range distanceFunctions {
		if err := register(name, 2, distanceFunc(distType)); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}

func distanceFunc(distType vectordb.DistanceType) func(*sqlite.FunctionContext, []driver.Value) (driver.Value, error) {
	return func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("expected 2 arguments, got %d", len(args))
		}
		a, err := asVector(args[0])
		if err != nil {
			return nil, err
		}
		b, err := asVector(args[1])
		if err != nil {
			return nil, err
		}
		if a == nil || b == nil {
			return nil, nil
		}
		d, err := vectordb.ComputeDistance(a, b, distType)
		if err != nil {
			return nil, err
		}
		return float64(d), nil
	}
}

func asVector(arg driver.Value) ([]float32, error) {
	switch v := arg.(type) {
	case nil:
		return nil, nil
	case []byte:
		return vectordb.DecodeVector(v)
	default:
		return nil, fmt.Errorf("unsupported argument type %T for vector, want BLOB", arg)
	}
}
