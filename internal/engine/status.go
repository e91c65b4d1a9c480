package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/acortes/kalmaker/internal/domain"
	"github.com/acortes/kalmaker/internal/ports"
)

// Run states surfaced in the status file. STARTING is written once by New,
// before the first loop iteration.
const (
	StateStarting = "STARTING"
	StateRunning  = "RUNNING"
	StatePaused   = "PAUSED"
)

// Status is the operator-facing state dump written once per loop iteration.
type Status struct {
	Timestamp        time.Time                  `json:"timestamp"`
	State            string                     `json:"status"`
	Date             string                     `json:"date"`
	TradingEnabled   bool                       `json:"trading_enabled"`
	Paper            bool                       `json:"paper,omitempty"`
	Balance          float64                    `json:"balance"`
	PortfolioValue   float64                    `json:"portfolio_value"`
	DailyStartEquity float64                    `json:"daily_start_equity"`
	PnLToday         float64                    `json:"pnl_today"`
	SpendableCash    float64                    `json:"spendable_cash"`
	OrdersToday      int                        `json:"orders_today"`
	OpenOrders       int                        `json:"open_orders"`
	Positions        []domain.Position          `json:"positions,omitempty"`
	Decisions        map[string]domain.Decision `json:"decisions,omitempty"`
}

// StatusWriter persists the status file atomically so an operator tailing it
// never reads a half-written document.
type StatusWriter struct {
	path string
}

func NewStatusWriter(path string) *StatusWriter {
	return &StatusWriter{path: path}
}

func (w *StatusWriter) Write(s Status) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("engine: marshal status: %w", err)
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("engine: write status: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("engine: write status: %w", err)
	}
	return nil
}

// ControlFlag is the kill switch: a plain text file holding "true" or
// "false". A missing file is created enabled, so deleting it can never
// silently stop the trader.
type ControlFlag struct {
	path string
}

func NewControlFlag(path string) *ControlFlag {
	return &ControlFlag{path: path}
}

// Enabled reads the flag, creating it as enabled on first sight.
func (f *ControlFlag) Enabled() bool {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		_ = os.WriteFile(f.path, []byte("true\n"), 0o644)
		return true
	}
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "true"
}

// WriteSnapshotFile mirrors the daily snapshot to a JSON file next to the
// status file, so the day's baseline survives even if the database is lost.
func WriteSnapshotFile(path string, snap ports.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("engine: marshal snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("engine: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("engine: write snapshot: %w", err)
	}
	return nil
}

// writeCrashLog appends a panic and its stack so a supervisor restart does
// not erase the evidence.
func writeCrashLog(path string, v any, stack []byte) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "==== %s ====\npanic: %v\n%s\n", time.Now().Format(time.RFC3339), v, stack)
}
