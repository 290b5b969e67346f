package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"statarb/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const keyHalted = "halted"

// Storage is the local SQLite state store. It holds engine state only,
// never trade history.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at path.
func NewStorage(path string) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&PrecisionRule{}, &PositionRecord{}, &EngineState{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Precision Operations
// ======================================================================================

// SavePrecisions upserts every rule.
func (s *Storage) SavePrecisions(rules map[string]int) error {
	if len(rules) == 0 {
		return nil
	}
	rows := make([]PrecisionRule, 0, len(rules))
	for symbol, decimals := range rules {
		rows = append(rows, PrecisionRule{Symbol: symbol, Decimals: decimals})
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(rows, 200).Error
}

// LoadPrecisions returns all cached rules.
func (s *Storage) LoadPrecisions() (map[string]int, error) {
	var rows []PrecisionRule
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Symbol] = r.Decimals
	}
	return out, nil
}

// ======================================================================================
// Position Operations
// ======================================================================================

// SavePosition creates or replaces the record for pos.Pair.
func (s *Storage) SavePosition(pos domain.Position) error {
	rec := PositionRecord{
		PairKey:   pos.Pair.String(),
		Leg1:      pos.Pair.Leg1,
		Leg2:      pos.Pair.Leg2,
		Direction: int(pos.Direction),
		Qty1:      pos.Qty1,
		Qty2:      pos.Qty2,
		OpenedAt:  pos.OpenedAt,
	}
	return s.db.Save(&rec).Error
}

// DeletePosition removes the record for key. Missing records are not an error.
func (s *Storage) DeletePosition(key domain.PairKey) error {
	return s.db.Where("pair_key = ?", key.String()).Delete(&PositionRecord{}).Error
}

// LoadPositions returns every persisted position.
func (s *Storage) LoadPositions() ([]domain.Position, error) {
	var recs []PositionRecord
	if err := s.db.Order("pair_key").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.Position{
			Pair:      domain.PairKey{Leg1: r.Leg1, Leg2: r.Leg2},
			Direction: domain.Direction(r.Direction),
			Qty1:      r.Qty1,
			Qty2:      r.Qty2,
			OpenedAt:  r.OpenedAt,
		})
	}
	return out, nil
}

// ======================================================================================
// Engine State Operations
// ======================================================================================

// SaveState stores a single flag.
func (s *Storage) SaveState(key, value string) error {
	return s.db.Save(&EngineState{Name: key, Value: value}).Error
}

// LoadState returns the value for key and whether it was present.
func (s *Storage) LoadState(key string) (string, bool, error) {
	var st EngineState
	err := s.db.First(&st, "name = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil // Not found is not an error
	}
	if err != nil {
		return "", false, err
	}
	return st.Value, true, nil
}

// SaveHalted persists the kill switch.
func (s *Storage) SaveHalted(halted bool) error {
	return s.SaveState(keyHalted, strconv.FormatBool(halted))
}

// LoadHalted returns the persisted kill switch, false when never set.
func (s *Storage) LoadHalted() (bool, error) {
	v, ok, err := s.LoadState(keyHalted)
	if err != nil || !ok {
		return false, err
	}
	return strconv.ParseBool(v)
}
