package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTable 报告表名
const DefaultTable = "audit_reports"

// 两种数据库共用的列顺序
var reportColumns = []string{
	"id", "contract_name", "contract_address", "source_hash", "security_score",
	"risk_level", "models_used", "models_failed", "degraded", "format", "content",
	"report_json", "generated_at",
}

func reportRow(report *SecurityReport, doc Document) ([]any, error) {
	raw, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return []any{
		report.ID,
		report.ContractName,
		report.ContractAddress,
		report.SourceHash,
		report.SecurityScore,
		string(report.RiskLevel),
		len(report.ModelsUsed),
		len(report.ModelsFailed),
		report.Degraded,
		doc.Format,
		doc.Content,
		string(raw),
		report.GeneratedAt,
	}, nil
}

// sqlExecer *sql.DB 的最小子集
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// MySQLStorage 把报告写入 MySQL（驱动 go-sql-driver/mysql）
type MySQLStorage struct {
	db    sqlExecer
	table string
}

// NewMySQLStorage db 通常来自 config.OpenStorage
func NewMySQLStorage(db *sql.DB, table string) *MySQLStorage {
	if db == nil {
		return newMySQLStorage(nil, table)
	}
	return newMySQLStorage(db, table)
}

func newMySQLStorage(db sqlExecer, table string) *MySQLStorage {
	if table == "" {
		table = DefaultTable
	}
	return &MySQLStorage{db: db, table: table}
}

// EnsureSchema 建表（已存在则跳过）
func (s *MySQLStorage) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(36) PRIMARY KEY,
	contract_name VARCHAR(255) NOT NULL,
	contract_address VARCHAR(42) NOT NULL DEFAULT '',
	source_hash CHAR(66) NOT NULL,
	security_score TINYINT UNSIGNED NOT NULL,
	risk_level VARCHAR(16) NOT NULL,
	models_used INT NOT NULL,
	models_failed INT NOT NULL,
	degraded BOOLEAN NOT NULL,
	format VARCHAR(16) NOT NULL,
	content LONGTEXT NOT NULL,
	report_json JSON NOT NULL,
	generated_at DATETIME NOT NULL,
	INDEX idx_source_hash (source_hash)
) DEFAULT CHARSET=utf8mb4`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("EnsureSchema: %w", err)
	}
	return nil
}

// Save 插入一行，返回报告 ID
func (s *MySQLStorage) Save(ctx context.Context, report *SecurityReport, doc Document) (string, error) {
	if s.db == nil {
		return "", fmt.Errorf("MySQLStorage: db is nil")
	}
	args, err := reportRow(report, doc)
	if err != nil {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx, insertQuery(s.table, mysqlPlaceholder), args...); err != nil {
		return "", fmt.Errorf("MySQLStorage insert: %w", err)
	}
	return report.ID, nil
}

// pgExecer *pgxpool.Pool 的最小子集
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStorage 把报告写入 PostgreSQL（pgx 连接池）
type PostgresStorage struct {
	pool  pgExecer
	table string
}

func NewPostgresStorage(pool *pgxpool.Pool, table string) *PostgresStorage {
	if pool == nil {
		return newPostgresStorage(nil, table)
	}
	return newPostgresStorage(pool, table)
}

func newPostgresStorage(pool pgExecer, table string) *PostgresStorage {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresStorage{pool: pool, table: table}
}

func (s *PostgresStorage) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	contract_name TEXT NOT NULL,
	contract_address TEXT NOT NULL DEFAULT '',
	source_hash TEXT NOT NULL,
	security_score SMALLINT NOT NULL,
	risk_level TEXT NOT NULL,
	models_used INT NOT NULL,
	models_failed INT NOT NULL,
	degraded BOOLEAN NOT NULL,
	format TEXT NOT NULL,
	content TEXT NOT NULL,
	report_json JSONB NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("EnsureSchema: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Save(ctx context.Context, report *SecurityReport, doc Document) (string, error) {
	if s.pool == nil {
		return "", fmt.Errorf("PostgresStorage: pool is nil")
	}
	args, err := reportRow(report, doc)
	if err != nil {
		return "", err
	}
	if _, err := s.pool.Exec(ctx, insertQuery(s.table, postgresPlaceholder), args...); err != nil {
		return "", fmt.Errorf("PostgresStorage insert: %w", err)
	}
	return report.ID, nil
}

func mysqlPlaceholder(int) string { return "?" }

func postgresPlaceholder(i int) string { return fmt.Sprintf("$%d", i) }

func insertQuery(table string, placeholder func(int) string) string {
	cols := ""
	vals := ""
	for i, c := range reportColumns {
		if i > 0 {
			cols += ", "
			vals += ", "
		}
		cols += c
		vals += placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, cols, vals)
}
