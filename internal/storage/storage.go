// Package storage persists tracker, ledger and trade-history state as a
// single JSON document, written atomically so a crash mid-save never
// corrupts the file.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/astrarise/nifty-options-bot/internal/ledger"
	"github.com/astrarise/nifty-options-bot/internal/models"
)

// ClosedTrade is one completed round trip, kept for the history view.
type ClosedTrade struct {
	Symbol       string            `json:"symbol"`
	StrikePrice  int               `json:"strike_price"`
	OptionType   models.OptionType `json:"option_type"`
	Quantity     int               `json:"quantity"`
	LotSize      int               `json:"lot_size"`
	EntryPremium float64           `json:"entry_premium"`
	ExitPremium  float64           `json:"exit_premium"`
	PnL          float64           `json:"pnl"`
	ExitReason   string            `json:"exit_reason"`
	EntryTime    time.Time         `json:"entry_time"`
	ExitTime     time.Time         `json:"exit_time"`
}

// Data is the complete persisted document.
type Data struct {
	Positions   []models.Position `json:"positions"`
	Ledger      ledger.State      `json:"ledger"`
	History     []ClosedTrade     `json:"history"`
	LastUpdated time.Time         `json:"last_updated"`
}

// Store abstracts persistence so tests can swap in an in-memory fake.
type Store interface {
	Load() (*Data, error)
	Save(*Data) error
	AppendClosedTrade(trade ClosedTrade) error
}

// JSONStore persists Data to a single JSON file.
type JSONStore struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*JSONStore)(nil)

// NewJSONStore creates a store at path, creating parent directories.
func NewJSONStore(path string) (*JSONStore, error) {
	if path == "" {
		return nil, errors.New("storage path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating storage dir: %w", err)
		}
	}
	return &JSONStore{path: path}, nil
}

// Load reads the persisted document. A missing file yields an empty
// document, not an error.
func (s *JSONStore) Load() (*Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *JSONStore) loadLocked() (*Data, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &Data{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading storage file: %w", err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parsing storage file: %w", err)
	}
	return &data, nil
}

// Save writes the document atomically: marshal to a temp file in the
// same directory, then rename over the target.
func (s *JSONStore) Save(data *Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(data)
}

func (s *JSONStore) saveLocked(data *Data) error {
	data.LastUpdated = time.Now()

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling storage data: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".positions-*.json.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing storage file: %w", err)
	}
	return nil
}

// AppendClosedTrade loads, appends to history and saves in one critical
// section.
func (s *JSONStore) AppendClosedTrade(trade ClosedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadLocked()
	if err != nil {
		return err
	}
	data.History = append(data.History, trade)
	return s.saveLocked(data)
}
