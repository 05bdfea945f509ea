// Package auditlog keeps an append-only trail of every signal the platform
// emitted, in a database separate from the operational store so operational
// compaction or schema migrations never touch the audit history.
package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vela/internal/ledger"

	"github.com/tidwall/gjson"
	_ "modernc.org/sqlite"
)

type AuditStore struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	ownsDB bool
}

// SignalRecord is one audit row. Payload holds the full signal as JSON so
// later queries can reach fields the schema never anticipated.
type SignalRecord struct {
	ID      int64  `json:"id"`
	TS      int64  `json:"ts"`
	Symbol  string `json:"symbol"`
	Action  string `json:"action"`
	Status  string `json:"status"`
	IsLive  bool   `json:"is_live"`
	Payload string `json:"payload"`
}

// IndicatorRollup summarizes one indicator across audited signals.
type IndicatorRollup struct {
	Key   string  `json:"key"`
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

func NewAuditStore(path string) (*AuditStore, error) {
	if path == "" {
		return nil, fmt.Errorf("audit log path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureAuditSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &AuditStore{db: db, path: path, ownsDB: true}, nil
}

func (s *AuditStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if !s.ownsDB {
		s.db = nil
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureAuditSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signal_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			action TEXT NOT NULL,
			status TEXT NOT NULL,
			is_live INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_signal_audit_symbol_ts ON signal_audit(symbol, ts DESC, id DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AppendSignal writes one signal to the trail. The signal is serialized
// whole; rows are never updated afterwards.
func (s *AuditStore) AppendSignal(ctx context.Context, sig ledger.Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("audit store is closed")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO signal_audit (ts, symbol, action, status, is_live, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sig.Timestamp.UnixMilli(), sig.Symbol, string(sig.Action), string(sig.Status),
		boolToInt(sig.IsLive), string(payload), time.Now().Unix())
	return err
}

// ListRecent returns the latest audit rows for a symbol, newest first. An
// empty symbol returns rows across all symbols.
func (s *AuditStore) ListRecent(ctx context.Context, symbol string, limit int) ([]SignalRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("audit store is closed")
	}

	query := `SELECT id, ts, symbol, action, status, is_live, payload FROM signal_audit`
	args := []interface{}{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var rec SignalRecord
		var isLive int
		if err := rows.Scan(&rec.ID, &rec.TS, &rec.Symbol, &rec.Action, &rec.Status, &isLive, &rec.Payload); err != nil {
			return nil, err
		}
		rec.IsLive = isLive != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Rollup scans the audited payloads for a symbol and aggregates one
// indicator from the decision snapshots, e.g. key "rsi" reads
// payload.snapshot.rsi from each row.
func (s *AuditStore) Rollup(ctx context.Context, symbol, key string) (*IndicatorRollup, error) {
	recs, err := s.ListRecent(ctx, symbol, 1000)
	if err != nil {
		return nil, err
	}
	roll := &IndicatorRollup{Key: key}
	var sum float64
	path := "snapshot." + key
	for _, rec := range recs {
		val := gjson.Get(rec.Payload, path)
		if !val.Exists() {
			continue
		}
		f := val.Float()
		if roll.Count == 0 || f < roll.Min {
			roll.Min = f
		}
		if roll.Count == 0 || f > roll.Max {
			roll.Max = f
		}
		sum += f
		roll.Count++
	}
	if roll.Count > 0 {
		roll.Avg = sum / float64(roll.Count)
	}
	return roll, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
