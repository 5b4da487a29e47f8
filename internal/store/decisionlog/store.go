// Package decisionlog persists advisor consultations so reversals and
// vetoes can be audited after the fact.
package decisionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"guardian/internal/risk"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// keepRecords caps the journal; older rows are pruned on insert.
const keepRecords = 100

// DecisionModel is the persisted row for one advisor consultation.
type DecisionModel struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol     string         `gorm:"index;size:32" json:"symbol"`
	Stage      string         `gorm:"size:32" json:"stage"`
	Action     string         `gorm:"size:16" json:"action"`
	Confidence float64        `json:"confidence"`
	ROIPct     float64        `gorm:"column:roi_pct" json:"roi_pct"`
	Leverage   float64        `json:"leverage"`
	SizePct    float64        `gorm:"column:size_pct" json:"size_pct"`
	Rationale  string         `gorm:"type:TEXT" json:"rationale"`
	Context    datatypes.JSON `gorm:"type:TEXT" json:"context,omitempty"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

func (DecisionModel) TableName() string { return "advisor_decisions" }

// Store is the sqlite-backed decision journal. It implements risk.Journal.
type Store struct {
	db *gorm.DB
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("decision log path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return NewFromDB(db)
}

// NewFromDB wraps an existing gorm handle, used by tests.
func NewFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	if err := db.AutoMigrate(&DecisionModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record appends one consultation and prunes the journal to the newest
// keepRecords rows.
func (s *Store) Record(ctx context.Context, rec risk.DecisionRecord) error {
	contextJSON, _ := json.Marshal(map[string]any{
		"roi_pct":  rec.ROIPct,
		"leverage": rec.Leverage,
	})
	row := DecisionModel{
		Symbol:     rec.Symbol,
		Stage:      rec.Stage,
		Action:     rec.Action,
		Confidence: rec.Confidence,
		ROIPct:     rec.ROIPct,
		Leverage:   rec.Leverage,
		SizePct:    rec.SizePct,
		Rationale:  rec.Rationale,
		Context:    datatypes.JSON(contextJSON),
		CreatedAt:  rec.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	return s.prune(ctx)
}

func (s *Store) prune(ctx context.Context) error {
	var cutoff DecisionModel
	err := s.db.WithContext(ctx).
		Order("id DESC").
		Offset(keepRecords - 1).
		Limit(1).
		Take(&cutoff).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Where("id < ?", cutoff.ID).
		Delete(&DecisionModel{}).Error
}

// ListRecent returns the newest consultations, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]DecisionModel, error) {
	if limit <= 0 || limit > keepRecords {
		limit = keepRecords
	}
	var rows []DecisionModel
	err := s.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
