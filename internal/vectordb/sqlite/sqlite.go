// Package sqlite 基于纯Go SQLite的向量存储
// 每个集合一张表，向量以小端float32 BLOB保存，排序由注册的SQL距离函数完成
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/fyerfyer/lang-data/internal/vectordb"
)

// validName 集合名只允许字母数字和下划线
var validName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

const registryTable = "langdata_collections"

// Store SQLite向量存储实现
type Store struct {
	db       *sql.DB
	distType vectordb.DistanceType
}

// New 打开SQLite数据库，Path为空时使用内存数据库
func New(cfg vectordb.Config) (vectordb.Store, error) {
	if err := registerFunctions(); err != nil {
		return nil, fmt.Errorf("failed to register vector functions: %w", err)
	}

	dsn := cfg.Path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// 单连接，避免内存库被拆成多个实例
	db.SetMaxOpenConns(1)

	distType := cfg.Distance
	if _, ok := distanceFunctions[distType]; !ok {
		distType = vectordb.Cosine
	}

	s := &Store{db: db, distType: distType}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + registryTable + ` (
		name TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create registry table: %w", err)
	}
	return s, nil
}

func tableName(collection string) string {
	return `"vec_` + collection + `"`
}

func checkName(op, name string) error {
	if !validName.MatchString(name) {
		return vectordb.Errorf(op, vectordb.KindInvalidArgument, name, "collection name must match %s", validName)
	}
	return nil
}

// dimension 查询集合维度
func (s *Store) dimension(ctx context.Context, op, name string) (int, error) {
	if err := checkName(op, name); err != nil {
		return 0, err
	}
	var dim int
	err := s.db.QueryRowContext(ctx, `SELECT dimension FROM `+registryTable+` WHERE name = ?`, name).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, vectordb.CollectionNotFound(op, name)
	}
	if err != nil {
		return 0, vectordb.Wrap(op, name, err)
	}
	return dim, nil
}

// EnsureCollection 创建集合表
func (s *Store) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if err := checkName("ensure", name); err != nil {
		return err
	}
	if dimension <= 0 {
		return vectordb.Errorf("ensure", vectordb.KindInvalidArgument, name, "dimension must be positive")
	}

	existing, err := s.dimension(ctx, "ensure", name)
	if err == nil {
		return vectordb.CollectionExists(name, existing, dimension)
	}
	if !vectordb.IsNotFound(err) {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return vectordb.Wrap("ensure", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+tableName(name)+` (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL,
		embedding BLOB NOT NULL
	)`); err != nil {
		return vectordb.Wrap("ensure", name, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO `+registryTable+` (name, dimension) VALUES (?, ?)`, name, dimension); err != nil {
		return vectordb.Wrap("ensure", name, err)
	}
	return vectordb.Wrap("ensure", name, tx.Commit())
}

// Upsert 在一个事务中写入全部记录
func (s *Store) Upsert(ctx context.Context, name string, records []vectordb.Record) ([]string, error) {
	dim, err := s.dimension(ctx, "upsert", name)
	if err != nil {
		return nil, err
	}
	prepared, ids, err := vectordb.PrepareRecords(name, records, dim)
	if err != nil {
		return nil, err
	}
	if len(prepared) == 0 {
		return ids, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, vectordb.Wrap("upsert", name, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+tableName(name)+` (id, content, metadata, embedding)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, metadata = excluded.metadata, embedding = excluded.embedding`)
	if err != nil {
		return nil, vectordb.Wrap("upsert", name, err)
	}
	defer stmt.Close()

	for _, rec := range prepared {
		meta, err := encodeMetadata(rec.Metadata)
		if err != nil {
			return nil, vectordb.Wrap("upsert", name, err)
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.Text, meta, vectordb.EncodeVector(rec.Vector)); err != nil {
			return nil, vectordb.Wrap("upsert", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, vectordb.Wrap("upsert", name, err)
	}
	return ids, nil
}

// Search 使用SQL距离函数排序，元数据过滤使用json_extract
func (s *Store) Search(ctx context.Context, name string, vector []float32, k int, filter *vectordb.Filter) ([]vectordb.Result, error) {
	if err := vectordb.ValidateK(name, k); err != nil {
		return nil, err
	}
	dim, err := s.dimension(ctx, "search", name)
	if err != nil {
		return nil, err
	}
	if err := vectordb.ValidateVector("search", name, vector, dim); err != nil {
		return nil, err
	}

	fn := distanceFunctions[s.distType]
	order := "ASC"
	if s.distType == vectordb.DotProduct {
		order = "DESC"
	}

	query := `SELECT id, content, metadata, ` + fn + `(embedding, ?) AS d FROM ` + tableName(name)
	args := []interface{}{vectordb.EncodeVector(vector)}
	if filter != nil && len(filter.Metadata) > 0 {
		keys := make([]string, 0, len(filter.Metadata))
		for key := range filter.Metadata {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		conds := make([]string, len(keys))
		for i, key := range keys {
			conds[i] = `json_extract(metadata, ?) = ?`
			args = append(args, jsonPath(key), filter.Metadata[key])
		}
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY d ` + order + `, id ASC LIMIT ?`
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, vectordb.Wrap("search", name, err)
	}
	defer rows.Close()

	results := make([]vectordb.Result, 0, k)
	for rows.Next() {
		var (
			r    vectordb.Result
			meta string
			dist float64
		)
		if err := rows.Scan(&r.ID, &r.Text, &meta, &dist); err != nil {
			return nil, vectordb.Wrap("search", name, err)
		}
		if r.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, vectordb.Wrap("search", name, err)
		}
		r.Distance = float32(dist)
		r.Score = vectordb.DistanceToScore(r.Distance, s.distType)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, vectordb.Wrap("search", name, err)
	}
	return results, nil
}

// Delete 删除记录
func (s *Store) Delete(ctx context.Context, name string, ids []string) error {
	if _, err := s.dimension(ctx, "delete", name); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+tableName(name)+` WHERE id IN (`+placeholders+`)`, args...)
	return vectordb.Wrap("delete", name, err)
}

// DropCollection 删除集合表和注册记录
func (s *Store) DropCollection(ctx context.Context, name string) error {
	if _, err := s.dimension(ctx, "drop", name); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return vectordb.Wrap("drop", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+tableName(name)); err != nil {
		return vectordb.Wrap("drop", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+registryTable+` WHERE name = ?`, name); err != nil {
		return vectordb.Wrap("drop", name, err)
	}
	return vectordb.Wrap("drop", name, tx.Commit())
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// jsonPath 生成json_extract路径，键名加引号以支持特殊字符
func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

func encodeMetadata(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	data, err := json.Marshal(m)
	return string(data), err
}

func decodeMetadata(s string) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func init() {
	vectordb.Register("sqlite", New)
}
