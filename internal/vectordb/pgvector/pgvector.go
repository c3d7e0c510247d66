// Package pgvector 基于PostgreSQL pgvector扩展的向量存储
package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/vectordb"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

const registryTable = "langdata_collections"

// operators 距离类型对应的pgvector运算符
var operators = map[vectordb.DistanceType]string{
	vectordb.Cosine:     "<=>",
	vectordb.Euclidean:  "<->",
	vectordb.DotProduct: "<#>",
}

// Store pgvector向量存储实现
type Store struct {
	pool     *pgxpool.Pool
	distType vectordb.DistanceType
}

// New 连接PostgreSQL，确保vector扩展和注册表存在
func New(cfg vectordb.Config) (vectordb.Store, error) {
	if cfg.URL == "" {
		return nil, document.NewConfigError("vectordb.url", "pgvector requires a connection string")
	}
	distType := cfg.Distance
	if _, ok := operators[distType]; !ok {
		distType = vectordb.Cosine
	}

	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	// 类型注册依赖扩展，先用单连接创建
	conn, err := pgx.Connect(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	_, err = conn.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	if err == nil {
		_, err = conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+registryTable+` (
			name TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL
		)`)
	}
	conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare database: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, document.NewConfigError("vectordb.url", "invalid connection string: %v", err)
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return &Store{pool: pool, distType: distType}, nil
}

func tableName(collection string) string {
	return pgx.Identifier{"vec_" + collection}.Sanitize()
}

func (s *Store) dimension(ctx context.Context, op, name string) (int, error) {
	if !validName.MatchString(name) {
		return 0, vectordb.Errorf(op, vectordb.KindInvalidArgument, name, "collection name must match %s", validName)
	}
	var dim int
	err := s.pool.QueryRow(ctx, `SELECT dimension FROM `+registryTable+` WHERE name = $1`, name).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, vectordb.CollectionNotFound(op, name)
	}
	if err != nil {
		return 0, vectordb.Wrap(op, name, err)
	}
	return dim, nil
}

// EnsureCollection 创建集合表
func (s *Store) EnsureCollection(ctx context.Context, name string, dimension int) error {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return vectordb.Wrap("ensure", name, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+tableName(name)+` (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		embedding vector(`+strconv.Itoa(dimension)+`) NOT NULL
	)`); err != nil {
		return vectordb.Wrap("ensure", name, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO `+registryTable+` (name, dimension) VALUES ($1, $2)`, name, dimension); err != nil {
		return vectordb.Wrap("ensure", name, err)
	}
	return vectordb.Wrap("ensure", name, tx.Commit(ctx))
}

// Upsert 批量写入
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

	batch := &pgx.Batch{}
	query := `INSERT INTO ` + tableName(name) + ` (id, content, metadata, embedding) VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`
	for _, rec := range prepared {
		meta, err := encodeMetadata(rec.Metadata)
		if err != nil {
			return nil, vectordb.Wrap("upsert", name, err)
		}
		batch.Queue(query, rec.ID, rec.Text, meta, pgvector.NewVector(rec.Vector))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, vectordb.Wrap("upsert", name, err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, vectordb.Wrap("upsert", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, vectordb.Wrap("upsert", name, err)
	}
	return ids, nil
}

// Search 使用pgvector运算符排序，元数据过滤使用jsonb包含
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

	filterJSON := "{}"
	if filter != nil && len(filter.Metadata) > 0 {
		if filterJSON, err = encodeMetadata(filter.Metadata); err != nil {
			return nil, vectordb.Wrap("search", name, err)
		}
	}

	// <#>返回负的内积
	distExpr := `embedding ` + operators[s.distType] + ` $1`
	if s.distType == vectordb.DotProduct {
		distExpr = `(` + distExpr + `) * -1`
	}
	order := "ASC"
	if s.distType == vectordb.DotProduct {
		order = "DESC"
	}

	rows, err := s.pool.Query(ctx, `SELECT id, content, metadata, `+distExpr+` AS distance
		FROM `+tableName(name)+`
		WHERE metadata @> $2::jsonb
		ORDER BY distance `+order+`, id
		LIMIT $3`, pgvector.NewVector(vector), filterJSON, k)
	if err != nil {
		return nil, vectordb.Wrap("search", name, err)
	}
	defer rows.Close()

	results := make([]vectordb.Result, 0, k)
	for rows.Next() {
		var (
			r    vectordb.Result
			meta []byte
			dist float64
		)
		if err := rows.Scan(&r.ID, &r.Text, &meta, &dist); err != nil {
			return nil, vectordb.Wrap("search", name, err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return nil, vectordb.Wrap("search", name, err)
			}
			if len(r.Metadata) == 0 {
				r.Metadata = nil
			}
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
	_, err := s.pool.Exec(ctx, `DELETE FROM `+tableName(name)+` WHERE id = ANY($1)`, ids)
	return vectordb.Wrap("delete", name, err)
}

// DropCollection 删除集合表
func (s *Store) DropCollection(ctx context.Context, name string) error {
	if _, err := s.dimension(ctx, "drop", name); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return vectordb.Wrap("drop", name, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DROP TABLE IF EXISTS `+tableName(name)); err != nil {
		return vectordb.Wrap("drop", name, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+registryTable+` WHERE name = $1`, name); err != nil {
		return vectordb.Wrap("drop", name, err)
	}
	return vectordb.Wrap("drop", name, tx.Commit(ctx))
}

// Close 关闭连接池
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	return string(data), err
}

func init() {
	vectordb.Register("pgvector", New)
}
