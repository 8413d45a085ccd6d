package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentstudio/tunnel-proxy/pkg/model"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type database struct {
	db *gorm.DB
}

// New creates a new database connection
func New(ctx context.Context, dialect string, dsn string, config *gorm.Config) (Database, error) {
	if config == nil {
		config = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		}
	}
	// Reserve depends on unique-index violations surfacing as
	// gorm.ErrDuplicatedKey.
	config.TranslateError = true

	var gdb *gorm.DB
	var err error

	switch dialect {
	case "sqlite":
		gdb, err = gorm.Open(sqlite.Open(dsn), config)
	case "mysql":
		gdb, err = gorm.Open(mysql.Open(dsn), config)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	if err != nil {
		return nil, err
	}

	if dialect == "sqlite" {
		// sqlite allows one writer; funneling through a single connection
		// turns would-be SQLITE_BUSY errors into queueing.
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	gdb = gdb.WithContext(ctx)

	if err := gdb.AutoMigrate(&Tunnel{}); err != nil {
		return nil, err
	}

	return &database{db: gdb}, nil
}

func (d *database) Reserve(subdomain string) error {
	key := subdomain
	row := Tunnel{
		Subdomain: subdomain,
		ActiveKey: &key,
		Status:    model.StatusPending,
	}

	if err := d.db.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		return err
	}

	return nil
}

func (d *database) Finalize(rec Tunnel) (Tunnel, error) {
	var out Tunnel
	err := d.db.Transaction(func(tx *gorm.DB) error {
		var row Tunnel
		if err := tx.Where("subdomain = ? AND status = ?", rec.Subdomain, model.StatusPending).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("no reservation for %q: %w", rec.Subdomain, ErrNotFound)
			}
			return err
		}

		row.TunnelID = rec.TunnelID
		row.TunnelName = rec.TunnelName
		row.TunnelSecret = rec.TunnelSecret
		row.DNSRecordID = rec.DNSRecordID
		row.PublicURL = rec.PublicURL
		row.LocalPort = rec.LocalPort
		row.Description = rec.Description
		row.Status = model.StatusActive

		if err := tx.Save(&row).Error; err != nil {
			return err
		}

		out = row
		return nil
	})

	return out, err
}

func (d *database) Release(subdomain string) error {
	// Only ever removes the pending reservation; finalized rows are
	// immutable history.
	return d.db.Where("subdomain = ? AND status = ?", subdomain, model.StatusPending).Delete(&Tunnel{}).Error
}

func (d *database) FindActive(subdomain string) (*Tunnel, error) {
	var row Tunnel
	err := d.db.Where("subdomain = ? AND status = ?", subdomain, model.StatusActive).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &row, nil
}

func (d *database) Find(subdomain string) (*Tunnel, error) {
	var rows []Tunnel
	err := d.db.Where("subdomain = ? AND status <> ?", subdomain, model.StatusPending).
		Order("id DESC").Limit(1).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	return &rows[0], nil
}

func (d *database) SoftDelete(subdomain string) (*Tunnel, error) {
	var out Tunnel
	err := d.db.Transaction(func(tx *gorm.DB) error {
		var row Tunnel
		if err := tx.Where("subdomain = ? AND status = ?", subdomain, model.StatusActive).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		row.Status = model.StatusDeleted
		row.ActiveKey = nil

		if err := tx.Save(&row).Error; err != nil {
			return err
		}

		out = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &out, nil
}

func (d *database) List(statusFilter string, limit int) ([]Tunnel, error) {
	q := d.db.Model(&Tunnel{}).Where("status <> ?", model.StatusPending)

	switch statusFilter {
	case model.FilterAll, "":
	case model.FilterActive:
		q = q.Where("status = ?", model.StatusActive)
	case model.FilterDeleted:
		q = q.Where("status = ?", model.StatusDeleted)
	default:
		return nil, fmt.Errorf("invalid status filter: %s", statusFilter)
	}

	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []Tunnel
	err := q.Order("created_at DESC, id DESC").Find(&rows).Error
	return rows, err
}

func (d *database) LiveSubdomains() (map[string]bool, error) {
	var rows []Tunnel
	err := d.db.Select("subdomain").
		Where("status IN ?", []model.Status{model.StatusPending, model.StatusActive}).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		out[r.Subdomain] = true
	}

	return out, nil
}
