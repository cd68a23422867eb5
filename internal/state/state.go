package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"hodlbot/internal/money"
)

type OpenOrder struct {
	OrderID string      `json:"order_id"`
	Mode    string      `json:"mode"`
	Kind    string      `json:"kind"`
	Volume  money.Money `json:"volume"`
	Price   money.Money `json:"price"`
}

type Stats struct {
	Ticks   int `json:"ticks"`
	Trades  int `json:"trades"`
	Profit  int `json:"profit"`
	Loss    int `json:"loss"`
	Timeout int `json:"timeout"`
}

// Snapshot is the run checkpoint. It is informational: a restarted run
// rebuilds its ledger from the venue, not from here.
type Snapshot struct {
	RunID          string               `json:"run_id"`
	Midpoint       money.Money          `json:"midpoint"`
	Classification string               `json:"classification"`
	Phase          string               `json:"phase"`
	TradeState     string               `json:"trade_state,omitempty"`
	Position       money.Balances       `json:"position"`
	OpenOrders     map[string]OpenOrder `json:"open_orders"`
	ConfirmedFills []string             `json:"confirmed_fills,omitempty"`
	LastTickTime   time.Time            `json:"last_tick_time"`
	LastTradeTime  time.Time            `json:"last_trade_time"`
	Stats          Stats                `json:"stats"`
}

type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

func NewStore(runID string) *Store {
	return &Store{
		snapshot: Snapshot{
			RunID:      runID,
			Position:   money.Balances{},
			OpenOrders: map[string]OpenOrder{},
		},
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copy := s.snapshot
	copy.Position = s.snapshot.Position.Clone()
	copy.OpenOrders = make(map[string]OpenOrder, len(s.snapshot.OpenOrders))
	for k, v := range s.snapshot.OpenOrders {
		copy.OpenOrders[k] = v
	}
	copy.ConfirmedFills = append([]string(nil), s.snapshot.ConfirmedFills...)
	return copy
}

func (s *Store) UpdatePosition(position money.Balances) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Position = position.Clone()
}

func (s *Store) SetOpenOrders(orders map[string]OpenOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.OpenOrders = orders
}

func (s *Store) SetConfirmedFills(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.ConfirmedFills = ids
}

// RecordTick stores what the last tick observed.
func (s *Store) RecordTick(at time.Time, midpoint money.Money, classification, phase, tradeState string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.LastTickTime = at
	s.snapshot.Midpoint = midpoint
	s.snapshot.Classification = classification
	s.snapshot.Phase = phase
	s.snapshot.TradeState = tradeState
	s.snapshot.Stats.Ticks++
}

func (s *Store) SetLastTradeTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.LastTradeTime = t
	s.snapshot.Stats.Trades++
}

// RecordOutcome counts a closed trade.
func (s *Store) RecordOutcome(outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch outcome {
	case "profit":
		s.snapshot.Stats.Profit++
	case "loss":
		s.snapshot.Stats.Loss++
	case "timeout":
		s.snapshot.Stats.Timeout++
	}
}

// Save writes the checkpoint through a temp file in the same directory so a
// crash mid-write leaves the previous checkpoint intact.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.snapshot, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Load replaces the store contents with the checkpoint at path. A missing
// file is returned as is so callers can test for fs.ErrNotExist.
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	if snapshot.OpenOrders == nil {
		snapshot.OpenOrders = map[string]OpenOrder{}
	}
	if snapshot.Position == nil {
		snapshot.Position = money.Balances{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
	return nil
}
