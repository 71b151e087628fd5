package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"spot-sim/internal/core"
	"spot-sim/internal/sim"
)

// ErrNoSnapshot is returned by Snapshot when nothing has been recorded yet.
var ErrNoSnapshot = errors.New("no market snapshot recorded")

type tradeKeyEntry struct {
	Key    string    `json:"key"`
	SeenAt time.Time `json:"seen_at"`
}

// Store keeps simulator files under one state directory: the recorded
// market snapshot, the last session export and a daily trade journal.
type Store struct {
	root         string
	mu           sync.Mutex
	keysLoaded   bool
	tradeKeys    map[string]struct{}
	tradeEntries []tradeKeyEntry
}

const (
	tradeKeysMaxEntries    = 10000
	tradeKeysTrimToEntries = 8000
)

func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("state dir required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) SaveMarketSnapshot(snap core.MarketSnapshot) error {
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.snapshotPath(), snap)
}

func (s *Store) LoadMarketSnapshot() (core.MarketSnapshot, bool, error) {
	var snap core.MarketSnapshot
	ok, err := readJSON(s.snapshotPath(), &snap)
	if err != nil || !ok {
		return core.MarketSnapshot{}, ok, err
	}
	if snap.Account.Balances == nil {
		snap.Account.Balances = make(map[string]core.Asset)
	}
	return snap, true, nil
}

// Snapshot serves the recorded snapshot as a market data source.
func (s *Store) Snapshot(ctx context.Context) (core.MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return core.MarketSnapshot{}, err
	}
	snap, ok, err := s.LoadMarketSnapshot()
	if err != nil {
		return core.MarketSnapshot{}, err
	}
	if !ok {
		return core.MarketSnapshot{}, fmt.Errorf("%w in %s", ErrNoSnapshot, s.root)
	}
	return snap, nil
}

func (s *Store) SaveSession(state sim.SessionState) error {
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now().UTC()
	}
	if state.Orders == nil {
		state.Orders = make([]core.Order, 0)
	}
	if state.Trades == nil {
		state.Trades = make([]core.Trade, 0)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.sessionPath(), state)
}

func (s *Store) LoadSession() (sim.SessionState, bool, error) {
	var state sim.SessionState
	ok, err := readJSON(s.sessionPath(), &state)
	if err != nil || !ok {
		return sim.SessionState{}, ok, err
	}
	return state, true, nil
}

// AppendTrade writes trade to the journal of its UTC day. A trade already
// journaled under the same symbol and id is skipped.
func (s *Store) AppendTrade(trade core.Trade) error {
	if trade.Time.IsZero() {
		trade.Time = time.Now().UTC()
	}
	key := tradeKey(trade)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadTradeKeysLocked(); err != nil {
		return err
	}
	if _, ok := s.tradeKeys[key]; ok {
		return nil
	}

	dir := filepath.Join(s.root, "trades")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(trade)
	if err != nil {
		return err
	}
	if err := appendLine(s.tradesPath(trade.Time), data); err != nil {
		return err
	}
	return s.recordTradeKeyLocked(key, trade.Time)
}

// LoadTrades reads the journal of the UTC day containing day.
func (s *Store) LoadTrades(day time.Time) ([]core.Trade, error) {
	f, err := os.Open(s.tradesPath(day))
	if err != nil {
		if os.IsNotExist(err) {
			return []core.Trade{}, nil
		}
		return nil, err
	}
	defer f.Close()

	out := make([]core.Trade, 0)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var trade core.Trade
		if err := json.Unmarshal(line, &trade); err != nil {
			return nil, fmt.Errorf("decode trade journal line: %w", err)
		}
		out = append(out, trade)
	}
	return out, scanner.Err()
}

func tradeKey(trade core.Trade) string {
	return trade.Symbol + ":" + strconv.FormatInt(trade.ID, 10)
}

func (s *Store) recordTradeKeyLocked(key string, seenAt time.Time) error {
	entry := tradeKeyEntry{Key: key, SeenAt: seenAt.UTC()}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := appendLine(s.tradeKeysPath(), line); err != nil {
		return err
	}
	s.tradeKeys[key] = struct{}{}
	s.tradeEntries = append(s.tradeEntries, entry)
	if len(s.tradeEntries) > tradeKeysMaxEntries {
		return s.trimTradeKeysLocked()
	}
	return nil
}

func (s *Store) trimTradeKeysLocked() error {
	keep := tradeKeysTrimToEntries
	if keep > len(s.tradeEntries) {
		keep = len(s.tradeEntries)
	}
	kept := append([]tradeKeyEntry(nil), s.tradeEntries[len(s.tradeEntries)-keep:]...)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range kept {
		if err := enc.Encode(entry); err != nil {
			return err
		}
	}
	if err := writeFileAtomic(s.tradeKeysPath(), buf.Bytes()); err != nil {
		return err
	}
	s.tradeEntries = kept
	s.tradeKeys = make(map[string]struct{}, len(kept))
	for _, entry := range kept {
		s.tradeKeys[entry.Key] = struct{}{}
	}
	return nil
}

func (s *Store) loadTradeKeysLocked() error {
	if s.keysLoaded {
		return nil
	}
	s.tradeKeys = make(map[string]struct{})
	s.tradeEntries = make([]tradeKeyEntry, 0)
	f, err := os.Open(s.tradeKeysPath())
	if err != nil {
		if os.IsNotExist(err) {
			s.keysLoaded = true
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	for scanner.Scan() {
		var entry tradeKeyEntry
		if err := json.Unmarshal(bytes.TrimSpace(scanner.Bytes()), &entry); err != nil {
			continue
		}
		entry.Key = strings.TrimSpace(entry.Key)
		if entry.Key == "" {
			continue
		}
		if _, ok := s.tradeKeys[entry.Key]; ok {
			continue
		}
		s.tradeKeys[entry.Key] = struct{}{}
		s.tradeEntries = append(s.tradeEntries, entry)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	s.keysLoaded = true
	if len(s.tradeEntries) > tradeKeysMaxEntries {
		return s.trimTradeKeysLocked()
	}
	return nil
}

func (s *Store) snapshotPath() string {
	return filepath.Join(s.root, "market_snapshot.json")
}

func (s *Store) sessionPath() string {
	return filepath.Join(s.root, "session.json")
}

func (s *Store) tradesPath(day time.Time) string {
	return filepath.Join(s.root, "trades", day.UTC().Format("2006-01-02")+".jsonl")
}

func (s *Store) tradeKeysPath() string {
	return filepath.Join(s.root, "trade_keys.jsonl")
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return false, fmt.Errorf("%s is empty", filepath.Base(path))
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return false, err
	}
	return true, nil
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func writeJSONAtomic(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	return writeFileAtomic(path, buf.Bytes())
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	return fsyncDirBestEffort(dir, path)
}

func fsyncDirBestEffort(dir, path string) error {
	d, err := os.Open(dir)
	if err != nil {
		log.Printf(
			"level=WARN event=store_dir_fsync_skipped reason=%q dir=%q target=%q",
			err.Error(),
			dir,
			path,
		)
		return nil
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		log.Printf(
			"level=WARN event=store_dir_fsync_failed reason=%q dir=%q target=%q",
			err.Error(),
			dir,
			path,
		)
	}
	return nil
}
