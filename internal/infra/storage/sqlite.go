// Package storage persists change-event and order history to SQLite.
// The engine only needs load-once and append-only writes.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rail_sniper/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage wraps the SQLite database handle.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (creating if needed) the database at path.
func NewStorage(path string) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Pure Go SQLite, no cgo.
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&domain.MonitorRecord{},
		&domain.OrderRecord{},
		&domain.PassengerRecord{},
		&domain.AppConfig{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// ======================================================================================
// History (append-only)
// ======================================================================================

// RecordChange appends one change event to the monitor history.
func (s *Storage) RecordChange(ev domain.ChangeEvent) error {
	rec := domain.MonitorRecord{
		TrainCode: ev.Fingerprint.TrainCode,
		Date:      ev.Fingerprint.Date,
		SeatClass: ev.Fingerprint.SeatClass,
		Previous:  ev.Previous,
		Current:   ev.Current,
		HasTicket: ev.HasTicket,
	}
	return s.db.Create(&rec).Error
}

// RecordResult appends one terminal order outcome.
func (s *Storage) RecordResult(res domain.OrderResult) error {
	status := ""
	if res.Success {
		status = "pending_payment"
	}
	rec := domain.OrderRecord{
		TrainCode:   res.Fingerprint.TrainCode,
		Date:        res.Fingerprint.Date,
		SeatClass:   res.Fingerprint.SeatClass,
		Success:     res.Success,
		OrderNo:     res.OrderNo,
		Price:       res.Price.String(),
		FailureKind: string(res.FailureKind),
		Message:     res.Message,
		Attempts:    res.Attempts,
		Status:      status,
	}
	return s.db.Create(&rec).Error
}

// UpdateOrderStatus marks an order record from the payment flow.
func (s *Storage) UpdateOrderStatus(orderNo, status string) error {
	return s.db.Model(&domain.OrderRecord{}).
		Where("order_no = ?", orderNo).
		Update("status", status).Error
}

// RecentMonitorRecords returns the latest change events, newest first.
func (s *Storage) RecentMonitorRecords(limit int) ([]domain.MonitorRecord, error) {
	var recs []domain.MonitorRecord
	err := s.db.Order("id DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// OrderHistory returns past order outcomes, newest first.
func (s *Storage) OrderHistory(limit int) ([]domain.OrderRecord, error) {
	var recs []domain.OrderRecord
	err := s.db.Order("id DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// ======================================================================================
// Passenger cache
// ======================================================================================

// SavePassengers replaces the cached passenger profiles.
func (s *Storage) SavePassengers(passengers []domain.Passenger) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&domain.PassengerRecord{}).Error; err != nil {
			return err
		}
		for _, p := range passengers {
			rec := domain.PassengerRecord{
				Name:      p.Name,
				IDType:    p.IDType,
				IDNo:      p.IDNo,
				Mobile:    p.Mobile,
				UpdatedAt: time.Now(),
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Passengers returns the cached passenger profiles.
func (s *Storage) Passengers() ([]domain.Passenger, error) {
	var recs []domain.PassengerRecord
	if err := s.db.Find(&recs).Error; err != nil {
		return nil, err
	}
	passengers := make([]domain.Passenger, 0, len(recs))
	for _, r := range recs {
		passengers = append(passengers, domain.Passenger{
			Name:   r.Name,
			IDType: r.IDType,
			IDNo:   r.IDNo,
			Mobile: r.Mobile,
		})
	}
	return passengers, nil
}

// ======================================================================================
// Config Operations
// ======================================================================================

// SaveConfig saves a user configuration
func (s *Storage) SaveConfig(key, value string) error {
	config := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	return s.db.Save(&config).Error
}

// LoadConfig returns one stored value, "" when absent.
func (s *Storage) LoadConfig(key string) (string, error) {
	var cfg domain.AppConfig
	err := s.db.First(&cfg, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	return cfg.Value, err
}

// LoadConfigMap loads all user configurations as a map
func (s *Storage) LoadConfigMap() (map[string]string, error) {
	var configs []domain.AppConfig
	if err := s.db.Find(&configs).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}
	return result, nil
}
