package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sujalbistaa/pollwave/internal/models"
)

// Open connects to the database named by url. The scheme selects the
// dialect: postgres://, mysql:// or sqlite://.
func Open(url string, log *logrus.Entry) (*gorm.DB, error) {
	dialector, err := dialectorFor(url)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(url, "sqlite://") {
		// SQLite allows a single writer; serialise through one connection.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
	}

	log.WithField("dialect", dialector.Name()).Info("database connection established")
	return db, nil
}

func dialectorFor(url string) (gorm.Dialector, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return postgres.Open(url), nil
	case strings.HasPrefix(url, "mysql://"):
		dsn := strings.TrimPrefix(url, "mysql://")
		if !strings.Contains(dsn, "parseTime=") {
			dsn += sep(dsn) + "parseTime=true"
		}
		return mysql.Open(dsn), nil
	case strings.HasPrefix(url, "sqlite://"):
		return sqlite.Open(SQLiteDSN(strings.TrimPrefix(url, "sqlite://"))), nil
	default:
		return nil, errors.New("invalid DATABASE_URL prefix, must start with postgres://, mysql:// or sqlite://")
	}
}

// SQLiteDSN turns a file path into a DSN with foreign keys enforced and a
// busy timeout, both of which the schema relies on.
func SQLiteDSN(path string) string {
	if strings.Contains(path, "_pragma=") {
		return path
	}
	return path + sep(path) + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func sep(dsn string) string {
	if strings.Contains(dsn, "?") {
		return "&"
	}
	return "?"
}

// Migrate creates or updates every table, index and constraint.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
