package database

import (
	"fmt"
	"time"

	"github.com/sdko-org/sharelink/internal/config"
	"github.com/sdko-org/sharelink/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Config struct {
	Driver     string
	SQLitePath string
	User       string
	Password   string
	Host       string
	Port       string
	DBName     string
	SSLMode    string
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Driver:     cfg.DBDriver,
		SQLitePath: cfg.SQLitePath,
		User:       cfg.PostgresUser,
		Password:   cfg.PostgresPassword,
		Host:       cfg.PostgresHost,
		Port:       cfg.PostgresPort,
		DBName:     cfg.PostgresDatabase,
		SSLMode:    cfg.PostgresSSLMode,
	}
}

func (c Config) dialector() (gorm.Dialector, error) {
	switch c.Driver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(c.SQLitePath), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", c.Driver)
	}
}

// Open connects with retries, runs migrations and returns the handle.
func Open(logger *logrus.Logger, cfg Config) (*gorm.DB, error) {
	log := logger.WithFields(logrus.Fields{
		"component": "database",
		"driver":    cfg.Driver,
		"host":      cfg.Host,
		"database":  cfg.DBName,
	})

	dialector, err := cfg.dialector()
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(log, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}

	var db *gorm.DB
	const maxRetries = 5
	retryDelay := 2 * time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = gorm.Open(dialector, gormCfg)
		if err == nil {
			break
		}

		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err,
		}).Warn("Database connection failed")

		if attempt < maxRetries {
			time.Sleep(retryDelay)
			retryDelay *= 2
		}
	}

	if err != nil {
		log.WithError(err).Error("Failed to connect to database after retries")
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	if cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("database handle: %w", err)
		}
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		log.WithError(err).Error("Database migration failed")
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	log.Info("Database connection established")
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.SharedLink{},
		&models.AccessEvent{},
		&models.AdminLogEntry{},
		&models.RequestLog{},
	)
}
