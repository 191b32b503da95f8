package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"shroud/internal/proxy"
	"shroud/internal/support"
)

// DocumentRow stores one JSON document per key.
type DocumentRow struct {
	Key       string `gorm:"column:doc_key;primaryKey;size:64"`
	Body      string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (DocumentRow) TableName() string {
	return "shroud_documents"
}

type SQL struct {
	db  *gorm.DB
	box *SecretBox
}

// OpenSQL opens a sqlite or postgres connection with gorm's logger silenced.
func OpenSQL(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "sqlite":
		if dsn == "" {
			dsn = "shroud.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("store: postgres dsn is required")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: silentLogger()})
	if err != nil {
		return nil, fmt.Errorf("store: open connection: %w", err)
	}
	configureConnectionPool(db)
	return db, nil
}

// NewSQL migrates the document table and returns the store.
func NewSQL(db *gorm.DB, box *SecretBox) (*SQL, error) {
	if db == nil {
		return nil, fmt.Errorf("store: connection was not configured")
	}
	if err := db.AutoMigrate(&DocumentRow{}); err != nil {
		return nil, fmt.Errorf("store: auto migrate: %w", err)
	}
	return &SQL{db: db, box: box}, nil
}

func (s *SQL) Load(ctx context.Context) (proxy.Document, error) {
	var row DocumentRow
	err := s.db.WithContext(ctx).Where("doc_key = ?", documentKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return proxy.Document{}, nil
	}
	if err != nil {
		return proxy.Document{}, fmt.Errorf("store: load document: %w", err)
	}
	return decode(s.box, []byte(row.Body))
}

func (s *SQL) Save(ctx context.Context, doc proxy.Document) error {
	data, err := encode(s.box, doc)
	if err != nil {
		return err
	}
	row := DocumentRow{Key: documentKey, Body: string(data), UpdatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("store: save document: %w", err)
	}
	return nil
}

func silentLogger() logger.Interface {
	return logger.New(
		log.Default(),
		logger.Config{LogLevel: logger.Silent},
	)
}

func configureConnectionPool(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Error("store: get sql.DB", "error", err)
		return
	}
	maxOpen := support.GetEnvInt("SHROUD_DB_MAX_OPEN_CONNS", 4)
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetMaxIdleConns(maxOpen)
	}
	if lifetime := support.GetEnvInt("SHROUD_DB_CONN_MAX_LIFETIME", 300); lifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(lifetime) * time.Second)
	}
}
