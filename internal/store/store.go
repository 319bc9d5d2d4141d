// Package store mirrors committed leases to Postgres so a restarted
// server can resume its assignments. Tentative reservations are never
// persisted; they are cheap to re-establish and short-lived by design.
package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"sdhcpd/internal/lease"
	"sdhcpd/internal/sdhcp"
)

// LeaseRecord is the persisted shape of one committed lease. Addresses
// are stored in dotted-decimal text form.
type LeaseRecord struct {
	Address      string    `gorm:"primaryKey;size:32"`
	ClientID     string    `gorm:"index;not null;size:255"`
	PrefixLength int       `gorm:"not null"`
	ExpiresAt    time.Time `gorm:"not null;index"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// TableName pins the table name regardless of naming strategy.
func (LeaseRecord) TableName() string { return "sdhcp_leases" }

// Store is a Postgres-backed lease snapshot.
type Store struct {
	orm *gorm.DB
}

// Open connects to Postgres and migrates the lease table.
func Open(ctx context.Context, dsn string) (*Store, error) {
	orm, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open lease store: %w", err)
	}

	sqlDB, err := orm.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)

	if err := orm.WithContext(ctx).AutoMigrate(&LeaseRecord{}); err != nil {
		return nil, fmt.Errorf("migrate lease store: %w", err)
	}
	return &Store{orm: orm}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.orm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveLease upserts a committed lease.
func (s *Store) SaveLease(ctx context.Context, l lease.Lease) error {
	rec := LeaseRecord{
		Address:      l.Addr.String(),
		ClientID:     l.ClientID,
		PrefixLength: l.PrefixLength,
		ExpiresAt:    l.Expiry,
	}
	return s.orm.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			UpdateAll: true,
		}).
		Create(&rec).Error
}

// DeleteLease removes the record for addr, if any.
func (s *Store) DeleteLease(ctx context.Context, addr sdhcp.Address) error {
	return s.orm.WithContext(ctx).
		Where("address = ?", addr.String()).
		Delete(&LeaseRecord{}).Error
}

// LoadActive returns the committed leases that are still live at now.
// Rows whose address no longer parses are skipped rather than fatal;
// the sweep would reclaim them anyway.
func (s *Store) LoadActive(ctx context.Context, now time.Time) ([]lease.Lease, error) {
	var recs []LeaseRecord
	if err := s.orm.WithContext(ctx).
		Where("expires_at > ?", now).
		Find(&recs).Error; err != nil {
		return nil, err
	}

	leases := make([]lease.Lease, 0, len(recs))
	for _, rec := range recs {
		addr, err := sdhcp.ParseAddress(rec.Address)
		if err != nil {
			continue
		}
		leases = append(leases, lease.Lease{
			ClientID:     rec.ClientID,
			Addr:         addr,
			PrefixLength: rec.PrefixLength,
			Expiry:       rec.ExpiresAt,
			State:        lease.StateCommitted,
		})
	}
	return leases, nil
}
