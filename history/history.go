package history

import (
	"context"
	"fmt"
	"go-exchange-rate-gateway/domain"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// DefaultLimit snapshots returned by Latest when no limit is given
	DefaultLimit = 10

	// MaxLimit caps the snapshots returned by Latest
	MaxLimit = 100
)

// Record a stored rate snapshot
type Record struct {
	ID             uint64    `gorm:"primaryKey"`
	BaseCurrency   string    `gorm:"size:3;not null"`
	TargetCurrency string    `gorm:"size:3;not null"`
	Rate           float64   `gorm:"not null"`
	FetchedAt      time.Time `gorm:"not null"`
}

func (Record) TableName() string {
	return "exchange_rate_history"
}

func (r Record) snapshot() domain.Snapshot {
	return domain.Snapshot{
		Pair:      domain.Pair{From: domain.Currency(r.BaseCurrency), To: domain.Currency(r.TargetCurrency)},
		Rate:      domain.Rate(r.Rate),
		FetchedAt: r.FetchedAt,
	}
}

// Repository stores and lists rate snapshots
type Repository interface {
	// Save appends a snapshot.
	Save(ctx context.Context, snapshot domain.Snapshot) error

	// Latest lists the most recent snapshots of pair, newest first.
	Latest(ctx context.Context, pair domain.Pair, limit int) ([]domain.Snapshot, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a Repository backed by db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Open connects to postgres.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	return db, nil
}

func (r *repository) Save(ctx context.Context, snapshot domain.Snapshot) error {
	record := Record{
		BaseCurrency:   string(snapshot.Pair.From),
		TargetCurrency: string(snapshot.Pair.To),
		Rate:           float64(snapshot.Rate),
		FetchedAt:      snapshot.FetchedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("save [%v]: %w", snapshot.Pair, err)
	}
	return nil
}

func (r *repository) Latest(ctx context.Context, pair domain.Pair, limit int) ([]domain.Snapshot, error) {
	var records []Record
	err := r.db.WithContext(ctx).
		Where("base_currency = ? AND target_currency = ?", string(pair.From), string(pair.To)).
		Order("fetched_at DESC").
		Limit(clampLimit(limit)).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("latest [%v]: %w", pair, err)
	}

	snapshots := make([]domain.Snapshot, len(records))
	for i, record := range records {
		snapshots[i] = record.snapshot()
	}
	return snapshots, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
