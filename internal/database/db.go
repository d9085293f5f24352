package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	defaultMaxOpenConns = 16
	defaultMaxIdleConns = 4
	defaultConnLifetime = 30 * time.Minute
)

// Config contains database connection options.
type Config struct {
	Driver   string
	Path     string // sqlite file, empty or ":memory:" for a private in-memory store
	DSN      string // takes precedence over every other field when set
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	Options  map[string]string

	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	SlowQuery       time.Duration
}

// Open initialises a gorm.DB for the configured driver and tunes its pool.
func Open(cfg Config) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  newQueryLogger(cfg.SlowQuery),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", normalizeDriver(cfg.Driver), err)
	}

	if err := tunePool(db, cfg); err != nil {
		_ = Close(db)
		return nil, err
	}
	return db, nil
}

func normalizeDriver(driver string) string {
	switch d := strings.ToLower(strings.TrimSpace(driver)); d {
	case "":
		return "sqlite"
	case "postgresql":
		return "postgres"
	default:
		return d
	}
}

func tunePool(db *gorm.DB, cfg Config) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("access connection pool: %w", err)
	}

	sqlite := normalizeDriver(cfg.Driver) == "sqlite"

	// sqlite serialises writers anyway; one connection avoids shared-cache table locks.
	maxOpen := cfg.MaxOpenConns
	switch {
	case maxOpen > 0:
	case sqlite:
		maxOpen = 1
	default:
		maxOpen = defaultMaxOpenConns
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = defaultConnLifetime
	}

	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(min(defaultMaxIdleConns, maxOpen))

	// An in-memory sqlite database lives only as long as one of its connections.
	if sqlite {
		return enableForeignKeys(sqlDB)
	}
	sqlDB.SetConnMaxLifetime(lifetime)
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return sqlDB.Close()
}

// OpenAndMigrate opens the database and brings the schema up to date.
func OpenAndMigrate(cfg Config) (*gorm.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		_ = Close(db)
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return db, nil
}

// Ping verifies the connection is usable.
func Ping(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	return db.Exec("SELECT 1").Error
}
