package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/audiolibrelab/micnote/internal/session"
)

// noteRow is the table layout of an UploadRecord
type noteRow struct {
	PartitionKey  string `gorm:"primaryKey;size:64"`
	RowKey        string `gorm:"primaryKey;size:128"`
	URI           string `gorm:"column:uri;size:1024"`
	ApplicationID string `gorm:"size:128"`
	DeviceID      string `gorm:"size:128"`
	Timestamp     time.Time
}

// GormStore writes records to a SQL table through gorm
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a sqlite or mysql database
func NewGormStore(dialect, dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch dialect {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database dialect: %s", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}

	slog.Debug("Opened metadata database", "dialect", dialect)
	return &GormStore{db: db}, nil
}

func (s *GormStore) EnsureTable(ctx context.Context, name string) error {
	if err := s.db.WithContext(ctx).Table(name).AutoMigrate(&noteRow{}); err != nil {
		return fmt.Errorf("failed to migrate table %s: %w", name, err)
	}
	return nil
}

func (s *GormStore) Save(ctx context.Context, table string, record *session.UploadRecord) error {
	row := noteRow{
		PartitionKey:  record.PartitionKey,
		RowKey:        record.RowKey,
		URI:           record.URI,
		ApplicationID: record.ApplicationID,
		DeviceID:      record.DeviceID,
		Timestamp:     record.Timestamp,
	}
	if err := s.db.WithContext(ctx).Table(table).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save record to %s: %w", table, err)
	}
	return nil
}

// Recent returns up to limit records, newest first
func (s *GormStore) Recent(ctx context.Context, table string, limit int) ([]session.UploadRecord, error) {
	var rows []noteRow
	err := s.db.WithContext(ctx).Table(table).
		Where("partition_key = ?", PartitionKey).
		Order("row_key ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}

	records := make([]session.UploadRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, session.UploadRecord{
			PartitionKey:  r.PartitionKey,
			RowKey:        r.RowKey,
			URI:           r.URI,
			ApplicationID: r.ApplicationID,
			DeviceID:      r.DeviceID,
			Timestamp:     r.Timestamp,
		})
	}
	return records, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve database handle: %w", err)
	}
	return sqlDB.Close()
}
