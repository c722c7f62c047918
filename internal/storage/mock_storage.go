package storage

import (
	"sync"

	"github.com/astrarise/nifty-options-bot/internal/models"
)

// MockStore is an in-memory Store for tests.
type MockStore struct {
	mu      sync.Mutex
	data    Data
	saveErr error
	Saves   int
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// FailSavesWith makes every subsequent Save return err.
func (m *MockStore) FailSavesWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// Load returns a copy of the stored document.
func (m *MockStore) Load() (*Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := m.data
	cp.Positions = append([]models.Position(nil), m.data.Positions...)
	cp.History = append([]ClosedTrade(nil), m.data.History...)
	return &cp, nil
}

// Save replaces the stored document.
func (m *MockStore) Save(data *Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.Saves++
	m.data = *data
	return nil
}

// AppendClosedTrade appends to the in-memory history.
func (m *MockStore) AppendClosedTrade(trade ClosedTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data.History = append(m.data.History, trade)
	return nil
}
