package config

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/admi-n/audit-consensus/src/internal/report"
)

// OpenStorage 按 storage.driver 打开报告存储，返回的 close 函数用于释放连接
func OpenStorage(ctx context.Context, cfg StorageSettings, logger *zerolog.Logger) (report.Storage, func(), error) {
	noop := func() {}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	switch strings.ToLower(cfg.Driver) {
	case "", "file":
		return report.NewFileStorage(cfg.OutputDir), noop, nil

	case "mysql":
		db, err := InitDB(ctx, cfg.DSN)
		if err != nil {
			return nil, noop, err
		}
		s := report.NewMySQLStorage(db, cfg.Table)
		if err := s.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, noop, err
		}
		logger.Debug().Str("driver", "mysql").Msg("report storage ready")
		return s, func() { db.Close() }, nil

	case "postgres", "pgx":
		pool, err := InitPool(ctx, cfg.DSN)
		if err != nil {
			return nil, noop, err
		}
		s := report.NewPostgresStorage(pool, cfg.Table)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, noop, err
		}
		logger.Debug().Str("driver", "postgres").Msg("report storage ready")
		return s, pool.Close, nil

	default:
		return nil, noop, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// InitDB 打开 MySQL 连接池并 ping 一次
func InitDB(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("InitDB: storage.dsn is required for mysql")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("InitDB: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("InitDB ping failed: %w", err)
	}
	return db, nil
}

// InitPool 打开 PostgreSQL 连接池并 ping 一次
func InitPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("InitPool: storage.dsn is required for postgres")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("InitPool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("InitPool ping failed: %w", err)
	}
	return pool, nil
}
