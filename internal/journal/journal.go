// Package journal keeps a durable SQLite record of every order the desk
// placed, one row per order, updated as its status changes.
package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"hodlbot/internal/desk"
)

type OrderModel struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	RunID     string    `gorm:"column:run_id;uniqueIndex:idx_run_order"`
	OrderID   string    `gorm:"column:order_id;uniqueIndex:idx_run_order"`
	Symbol    string    `gorm:"column:symbol"`
	Mode      string    `gorm:"column:mode"`
	Kind      string    `gorm:"column:kind"`
	Status    string    `gorm:"column:status"`
	Volume    string    `gorm:"column:volume"`
	Filled    string    `gorm:"column:filled"`
	Price     string    `gorm:"column:price"`
	Stake     string    `gorm:"column:stake"`
	Quote     string    `gorm:"column:quote"`
	PlacedAt  time.Time `gorm:"column:placed_at"`
	UpdatedAt int64     `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string { return "orders" }

type Journal struct {
	db     *gorm.DB
	runID  string
	symbol string
	now    func() time.Time
}

func Open(path, runID, symbol string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return newJournal(db, runID, symbol)
}

func newJournal(db *gorm.DB, runID, symbol string) (*Journal, error) {
	if err := db.AutoMigrate(&OrderModel{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	return &Journal{db: db, runID: runID, symbol: symbol, now: time.Now}, nil
}

// Record upserts the given orders keyed by run and order id.
func (j *Journal) Record(ctx context.Context, orders []desk.Order) error {
	if len(orders) == 0 {
		return nil
	}
	rows := make([]OrderModel, 0, len(orders))
	stamp := j.now().Unix()
	for _, o := range orders {
		rows = append(rows, OrderModel{
			RunID:     j.runID,
			OrderID:   o.ID,
			Symbol:    j.symbol,
			Mode:      string(o.Mode),
			Kind:      string(o.Kind),
			Status:    string(o.Status),
			Volume:    o.Volume.Amount.String(),
			Filled:    o.Filled.Amount.String(),
			Price:     o.Price.Amount.String(),
			Stake:     string(o.Volume.Currency),
			Quote:     string(o.Price.Currency),
			PlacedAt:  o.PlacedAt,
			UpdatedAt: stamp,
		})
	}
	return j.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "filled", "updated_at"}),
	}).Create(&rows).Error
}

// ListRun returns the orders of one run in placement order.
func (j *Journal) ListRun(ctx context.Context, runID string) ([]OrderModel, error) {
	var rows []OrderModel
	if err := j.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("placed_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListOpen returns orders still open across all runs, newest first.
func (j *Journal) ListOpen(ctx context.Context) ([]OrderModel, error) {
	var rows []OrderModel
	if err := j.db.WithContext(ctx).
		Where("status = ?", string(desk.StatusOpen)).
		Order("placed_at DESC, id DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
