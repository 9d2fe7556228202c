package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/EvgenyQA404/perfume/internal/config"
	"github.com/EvgenyQA404/perfume/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB is the observation store. It owns one long-lived connection pool.
type GormDB struct {
	db              *gorm.DB
	defaultCurrency string
}

// Option customizes Open
type Option func(*options)

type options struct {
	nowFunc  func() time.Time
	logLevel logger.LogLevel
}

// WithNowFunc sets the clock used for observed_at and created_at
func WithNowFunc(now func() time.Time) Option {
	return func(o *options) { o.nowFunc = now }
}

// WithLogLevel sets the gorm SQL log level
func WithLogLevel(level logger.LogLevel) Option {
	return func(o *options) { o.logLevel = level }
}

// Open connects to the database described by cfg
func Open(cfg config.DatabaseConfig, opts ...Option) (*GormDB, error) {
	o := options{
		nowFunc: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
		logLevel: logger.Warn,
	}
	for _, opt := range opts {
		opt(&o)
	}

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(o.logLevel),
		NowFunc: o.nowFunc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Type, err)
	}

	// Test connection
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Type, err)
	}

	// sqlite allows a single writer; one connection serializes callers instead of
	// surfacing SQLITE_BUSY
	if cfg.Type == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	}

	return &GormDB{
		db:              db,
		defaultCurrency: normalizeCurrency(cfg.DefaultCurrency),
	}, nil
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Type {
	case "", "sqlite":
		dsn, err := sqliteDSN(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return sqlite.Open(dsn), nil
	case "mysql":
		m := cfg.MySQL
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			m.User, m.Password, m.Host, portOr(m.Port, 3306), m.Database)
		return mysql.Open(dsn), nil
	case "postgres":
		p := cfg.Postgres
		sslMode := p.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			p.Host, portOr(p.Port, 5432), p.User, p.Password, p.Database, sslMode)
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

// sqliteDSN enables WAL, a busy timeout and foreign keys on every connection
func sqliteDSN(path string) (string, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
}

func portOr(port, fallback int) int {
	if port > 0 {
		return port
	}
	return fallback
}

// DB returns the underlying gorm.DB instance
func (gdb *GormDB) DB() *gorm.DB {
	return gdb.db
}

// DefaultCurrency returns the tag applied to observations recorded without one
func (gdb *GormDB) DefaultCurrency() string {
	return gdb.defaultCurrency
}

// Close releases the connection pool
func (gdb *GormDB) Close() error {
	sqlDB, err := gdb.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InitSchema creates tables using GORM AutoMigrate
func (gdb *GormDB) InitSchema() error {
	return gdb.db.AutoMigrate(
		&models.Product{},
		&models.Observation{},
	)
}
