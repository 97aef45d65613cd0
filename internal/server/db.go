package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/blinky-mon/blinky/internal/hoststore"
	"github.com/blinky-mon/blinky/internal/models"
)

// Archive is the collector's write-behind record of every host, one row per
// hostname in SQLite. Nothing is ever read back into the live store.
type Archive struct {
	db  *gorm.DB
	log *zap.Logger
}

// OpenArchive opens (or creates) the database at path and runs AutoMigrate.
func OpenArchive(path string, log *zap.Logger) (*Archive, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", path, err)
	}
	if err := db.AutoMigrate(&models.HostSummary{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	log.Info("archive opened", zap.String("path", path))
	return &Archive{db: db, log: log}, nil
}

// Snapshot upserts one row per host currently in store and returns how many
// rows were written.
func (a *Archive) Snapshot(store *hoststore.Store) (int, error) {
	var (
		n    int
		errs []error
	)
	for _, rec := range store.GetAllHosts() {
		if err := a.upsert(rec, store.HistoryLen(rec.Hostname)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rec.Hostname, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func (a *Archive) upsert(rec hoststore.HostRecord, historyLen int) error {
	latest, err := rec.Latest.ToJSON()
	if err != nil {
		return fmt.Errorf("encoding latest: %w", err)
	}

	fields := map[string]any{
		"agent_version":    rec.AgentVersion,
		"version_mismatch": rec.VersionMismatch,
		"is_online":        rec.Online,
		"last_update":      time.Unix(int64(rec.LastUpdate), 0).UTC(),
		"history_len":      historyLen,
		"latest_json":      string(latest),
		"cpu_usage":        rec.Latest.CPU.Usage,
		"mem_usage":        rec.Latest.Memory.Usage,
	}

	var row models.HostSummary
	result := a.db.Where("hostname = ?", rec.Hostname).First(&row)
	switch {
	case errors.Is(result.Error, gorm.ErrRecordNotFound):
		row = models.HostSummary{
			Hostname:        rec.Hostname,
			AgentVersion:    rec.AgentVersion,
			VersionMismatch: rec.VersionMismatch,
			IsOnline:        rec.Online,
			LastUpdate:      time.Unix(int64(rec.LastUpdate), 0).UTC(),
			HistoryLen:      historyLen,
			LatestJSON:      string(latest),
			CPUUsage:        rec.Latest.CPU.Usage,
			MemUsage:        rec.Latest.Memory.Usage,
		}
		return a.db.Create(&row).Error
	case result.Error != nil:
		return result.Error
	}
	// Updates with a map so false and zero values are written too.
	return a.db.Model(&row).Updates(fields).Error
}

// List returns every archived host ordered by hostname.
func (a *Archive) List() ([]models.HostSummary, error) {
	var rows []models.HostSummary
	if err := a.db.Order("hostname").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Latest decodes the archived snapshot for hostname.
func (a *Archive) Latest(hostname string) (*models.Snapshot, error) {
	var row models.HostSummary
	if err := a.db.Where("hostname = ?", hostname).First(&row).Error; err != nil {
		return nil, err
	}
	return models.FromJSON([]byte(row.LatestJSON))
}

// Close releases the underlying connection pool.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
