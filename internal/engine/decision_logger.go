package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"hodlbot/internal/strategy"
)

// Decision is one NDJSON line per tick, written whether or not the tick
// placed anything.
type Decision struct {
	RunID          string          `json:"run_id"`
	Seq            int             `json:"seq"`
	Timestamp      time.Time       `json:"timestamp"`
	Symbol         string          `json:"symbol"`
	Midpoint       string          `json:"midpoint,omitempty"`
	Classification string          `json:"classification,omitempty"`
	BullCount      int             `json:"bull_count"`
	BearCount      int             `json:"bear_count"`
	Phase          string          `json:"phase,omitempty"`
	Intent         strategy.Action `json:"intent"`
	Reason         string          `json:"reason"`
	Result         string          `json:"result"`
	TradeState     string          `json:"trade_state,omitempty"`
	Outcome        string          `json:"outcome,omitempty"`
	OrderIDs       []string        `json:"order_ids,omitempty"`
	Filled         []string        `json:"filled,omitempty"`
	Position       string          `json:"position,omitempty"`
	Spread         string          `json:"spread,omitempty"`
	RejectReason   string          `json:"reject_reason,omitempty"`
}

type DecisionLogger struct {
	mu      sync.Mutex
	runID   string
	seq     int
	file    *os.File
	buf     *bufio.Writer
	encoder *json.Encoder
	log     *slog.Logger
}

// NewDecisionLogger appends to path, creating it and its directory when
// missing. Lines from earlier runs are kept; run_id tells them apart.
func NewDecisionLogger(path, runID string, logger *slog.Logger) (*DecisionLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("decision log dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	buf := bufio.NewWriter(file)
	return &DecisionLogger{
		runID:   runID,
		file:    file,
		buf:     buf,
		encoder: json.NewEncoder(buf),
		log:     logger.With("component", "decisions", "path", path),
	}, nil
}

func (d *DecisionLogger) RunID() string {
	return d.runID
}

// Append stamps the run id and sequence number and flushes the line.
// Write failures are logged; the tick that produced the decision still
// counts.
func (d *DecisionLogger) Append(decision Decision) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	decision.RunID = d.runID
	decision.Seq = d.seq
	if err := d.encoder.Encode(decision); err != nil {
		d.log.Error("decision not written", "seq", d.seq, "error", err)
		return
	}
	if err := d.buf.Flush(); err != nil {
		d.log.Error("decision not flushed", "seq", d.seq, "error", err)
	}
}

// Written reports how many decisions this logger has appended.
func (d *DecisionLogger) Written() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq
}

func (d *DecisionLogger) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	flushErr := d.buf.Flush()
	closeErr := d.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
