// Package state persists a versioned snapshot of the whole trading system
// — positions, open orders, balance, kill-switch state, lifetime counters
// — so a restart can resume instead of starting blind. One system-wide
// snapshot file with numbered backup rotation, rather than one file per
// market.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"polymarket-arb/internal/config"
)

// PersistedPosition is one token's holding within a snapshot.
type PersistedPosition struct {
	MarketID      string    `json:"market_id"`
	TokenID       string    `json:"token_id"`
	Outcome       string    `json:"outcome"`
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entry_price"`
	CostBasis     float64   `json:"cost_basis"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	EntryTime     time.Time `json:"entry_time"`
	LastUpdate    time.Time `json:"last_update"`
}

// PersistedOrder is one open order within a snapshot.
type PersistedOrder struct {
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	MarketID      string    `json:"market_id"`
	TokenID       string    `json:"token_id"`
	Side          string    `json:"side"`
	OrderType     string    `json:"order_type"`
	State         string    `json:"state"`
	Price         float64   `json:"price"`
	Size          float64   `json:"size"`
	FilledSize    float64   `json:"filled_size"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdate    time.Time `json:"last_update"`
	PairedOrderID string    `json:"paired_order_id,omitempty"`
}

// SystemState is the complete persisted snapshot of the trading system.
type SystemState struct {
	Version int `json:"version"`

	Positions  []PersistedPosition `json:"positions"`
	OpenOrders []PersistedOrder    `json:"open_orders"`

	Balance         float64 `json:"balance"`
	StartingBalance float64 `json:"starting_balance"`
	DailyPnL        float64 `json:"daily_pnl"`
	TotalPnL        float64 `json:"total_pnl"`
	TotalExposure   float64 `json:"total_exposure"`

	SessionID    string    `json:"session_id"`
	SessionStart time.Time `json:"session_start"`
	LastSave     time.Time `json:"last_save"`
	SaveCount    int       `json:"save_count"`

	KillSwitchActive bool   `json:"kill_switch_active"`
	KillSwitchReason string `json:"kill_switch_reason"`

	TotalOrders  int     `json:"total_orders"`
	TotalFills   int     `json:"total_fills"`
	TotalCancels int     `json:"total_cancels"`
	TotalFees    float64 `json:"total_fees"`
	TotalVolume  float64 `json:"total_volume"`
}

const currentVersion = 2

// IsValid reports whether the snapshot passes basic sanity checks.
func (s SystemState) IsValid() bool { return s.ValidationError() == "" }

// ValidationError returns a description of the first validation failure
// found, or "" if the snapshot is sound.
func (s SystemState) ValidationError() string {
	if s.Version < 1 || s.Version > 10 {
		return "invalid version number"
	}
	if s.Balance < 0 {
		return "negative balance"
	}
	if s.StartingBalance <= 0 {
		return "invalid starting balance"
	}
	if s.TotalExposure < 0 {
		return "negative exposure"
	}
	for _, pos := range s.Positions {
		if pos.Size < 0 {
			return "negative position size"
		}
	}
	return ""
}

// Manager owns the in-memory SystemState and its on-disk persistence.
// Thread-safe.
type Manager struct {
	cfg config.StateConfig

	mu    sync.Mutex
	state SystemState

	dirty        atomic.Bool
	lastSaveTime time.Time
}

// New creates a state manager backed by cfg.DataDir, creating the
// directory if needed.
func New(cfg config.StateConfig) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Manager{cfg: cfg, lastSaveTime: time.Now()}, nil
}

// Initialize seeds a fresh session. If sessionID is empty, a new one is
// generated.
func (m *Manager) Initialize(startingBalance float64, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Version = currentVersion
	m.state.StartingBalance = startingBalance
	m.state.Balance = startingBalance
	m.state.SessionStart = time.Now()

	if sessionID == "" {
		sessionID = uuid.NewString()[:8]
	}
	m.state.SessionID = sessionID
	m.dirty.Store(true)
}

// UpdatePosition inserts or replaces a position, keyed by token id.
func (m *Manager) UpdatePosition(pos PersistedPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.state.Positions {
		if existing.TokenID == pos.TokenID {
			m.state.Positions[i] = pos
			m.dirty.Store(true)
			return
		}
	}
	m.state.Positions = append(m.state.Positions, pos)
	m.dirty.Store(true)
}

// RemovePosition deletes a token's position from the snapshot.
func (m *Manager) RemovePosition(tokenID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.state.Positions[:0]
	for _, p := range m.state.Positions {
		if p.TokenID != tokenID {
			out = append(out, p)
		}
	}
	m.state.Positions = out
	m.dirty.Store(true)
}

// UpdateOrder inserts or replaces an open order, keyed by order id.
func (m *Manager) UpdateOrder(order PersistedOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.state.OpenOrders {
		if existing.OrderID == order.OrderID {
			m.state.OpenOrders[i] = order
			m.dirty.Store(true)
			return
		}
	}
	m.state.OpenOrders = append(m.state.OpenOrders, order)
	m.dirty.Store(true)
}

// RemoveOrder deletes an order from the open-orders list.
func (m *Manager) RemoveOrder(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.state.OpenOrders[:0]
	for _, o := range m.state.OpenOrders {
		if o.OrderID != orderID {
			out = append(out, o)
		}
	}
	m.state.OpenOrders = out
	m.dirty.Store(true)
}

// UpdateBalance sets the snapshot's current balance.
func (m *Manager) UpdateBalance(balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Balance = balance
	m.dirty.Store(true)
}

// UpdateDailyPnL sets the snapshot's daily realized PnL.
func (m *Manager) UpdateDailyPnL(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.DailyPnL = pnl
	m.dirty.Store(true)
}

// UpdateTotalPnL sets the snapshot's lifetime realized PnL.
func (m *Manager) UpdateTotalPnL(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.TotalPnL = pnl
	m.dirty.Store(true)
}

// UpdateExposure sets the snapshot's current total exposure.
func (m *Manager) UpdateExposure(exposure float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.TotalExposure = exposure
	m.dirty.Store(true)
}

// SetKillSwitch records kill-switch state and saves immediately — this is
// the one field change that can't wait for the next auto-save tick.
func (m *Manager) SetKillSwitch(active bool, reason string) error {
	m.mu.Lock()
	m.state.KillSwitchActive = active
	m.state.KillSwitchReason = reason
	m.dirty.Store(true)
	m.mu.Unlock()

	return m.Save()
}

// RecordOrder increments the lifetime order counter.
func (m *Manager) RecordOrder() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.TotalOrders++
	m.dirty.Store(true)
}

// RecordFill increments lifetime fill count, fees, and volume.
func (m *Manager) RecordFill(fee, volume float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.TotalFills++
	m.state.TotalFees += fee
	m.state.TotalVolume += volume
	m.dirty.Store(true)
}

// RecordCancel increments the lifetime cancel counter.
func (m *Manager) RecordCancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.TotalCancels++
	m.dirty.Store(true)
}

// Save atomically persists the current state to the primary state file.
func (m *Manager) Save() error {
	m.mu.Lock()
	m.state.LastSave = time.Now()
	m.state.SaveCount++
	snapshot := m.state
	m.mu.Unlock()

	if err := m.writeAtomic(m.statePath(), snapshot); err != nil {
		return err
	}
	m.dirty.Store(false)
	m.lastSaveTime = time.Now()
	return nil
}

// SaveBackup rotates numbered backups and writes the current state into
// backup slot 0, the newest.
func (m *Manager) SaveBackup() error {
	if err := m.rotateBackups(); err != nil {
		return err
	}

	m.mu.Lock()
	snapshot := m.state
	snapshot.LastSave = time.Now()
	m.mu.Unlock()

	return m.writeAtomic(m.backupPath(0), snapshot)
}

// SaveIfNeeded saves only if there are unsaved changes and the configured
// auto-save interval has elapsed since the last save.
func (m *Manager) SaveIfNeeded() error {
	if !m.dirty.Load() {
		return nil
	}
	if time.Since(m.lastSaveTime) >= m.cfg.SaveInterval {
		return m.Save()
	}
	return nil
}

// Load reads the primary state file, if present.
func (m *Manager) Load() (*SystemState, error) {
	return m.readFile(m.statePath())
}

// LoadBestAvailable tries the primary file first, then falls back through
// backups newest-first, returning the first one that validates.
func (m *Manager) LoadBestAvailable() (*SystemState, error) {
	if s, err := m.Load(); err == nil && s != nil && s.IsValid() {
		return s, nil
	}

	backups := m.listBackups()
	for _, path := range backups {
		s, err := m.readFile(path)
		if err == nil && s != nil && s.IsValid() {
			return s, nil
		}
	}
	return nil, fmt.Errorf("no valid state file found")
}

// CurrentState returns a copy of the in-memory state.
func (m *Manager) CurrentState() SystemState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HasUnsavedChanges reports whether state has changed since the last save.
func (m *Manager) HasUnsavedChanges() bool { return m.dirty.Load() }

// SessionID returns the current session identifier.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SessionID
}

func (m *Manager) statePath() string {
	return filepath.Join(m.cfg.DataDir, "state.json")
}

func (m *Manager) backupPath(index int) string {
	return filepath.Join(m.cfg.DataDir, fmt.Sprintf("state_backup_%d.json", index))
}

func (m *Manager) writeAtomic(path string, s SystemState) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

func (m *Manager) readFile(path string) (*SystemState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var s SystemState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal state file %s: %w", path, err)
	}
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid state file %s: %s", path, s.ValidationError())
	}
	return &s, nil
}

// listBackups returns existing backup paths, newest (lowest index) first.
func (m *Manager) listBackups() []string {
	var out []string
	for i := 0; i < m.cfg.BackupCount; i++ {
		path := m.backupPath(i)
		if _, err := os.Stat(path); err == nil {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Manager) rotateBackups() error {
	for i := m.cfg.BackupCount - 1; i > 0; i-- {
		from := m.backupPath(i - 1)
		to := m.backupPath(i)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, to); err != nil {
				return fmt.Errorf("rotate backup %d: %w", i, err)
			}
		}
	}
	return nil
}
