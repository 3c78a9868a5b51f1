package store

import (
	"strings"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/burncloud/burncloud-router/internal/obslog"
)

// DB is the process-wide handle, set by Open.
var DB *gorm.DB

// Open dials the configured DSN, picking the driver by URL scheme
// ("sqlite://", "mysql://", "postgres://").
func Open(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "mysql://"):
		dialector = mysql.Open(strings.TrimPrefix(dsn, "mysql://"))
	case strings.HasPrefix(dsn, "postgres://"):
		dialector = postgres.Open(dsn)
	default:
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	DB = db
	return db, nil
}

// Migrate auto-migrates the full schema. Called on startup; re-running
// is a no-op for existing columns.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Upstream{},
		&Group{},
		&GroupMember{},
		&Token{},
		&Price{},
		&TieredPrice{},
		&ExchangeRate{},
		&ProtocolConfig{},
		&LogEntry{},
	)
	if err != nil {
		return errors.Wrap(err, "migrate schema")
	}
	obslog.Logger.Info("store migrated")
	return nil
}
