package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one recorded mark price.
type Tick struct {
	Time   time.Time
	Symbol string
	Price  decimal.Decimal
}

type Feed interface {
	Next() (Tick, error)
	Close() error
}

// PriceSetter is the part of the simulator a replay drives.
type PriceSetter interface {
	SetPrice(ctx context.Context, symbol string, price decimal.Decimal) error
}

// JSONLFeed reads ticks from a .jsonl file or every .jsonl file in a
// directory, in name order. Lines without a symbol use defaultSymbol.
type JSONLFeed struct {
	paths         []string
	defaultSymbol string
	index         int
	file          *os.File
	scanner       *bufio.Scanner
	skipped       int
}

type tickLine struct {
	Time      json.RawMessage `json:"time"`
	Timestamp json.RawMessage `json:"timestamp"`
	Symbol    string          `json:"symbol"`
	Price     json.RawMessage `json:"price"`
	Close     json.RawMessage `json:"close"`
}

func NewJSONLFeed(path, defaultSymbol string) (*JSONLFeed, error) {
	paths, err := resolveJSONLPaths(path)
	if err != nil {
		return nil, err
	}
	feed := &JSONLFeed{paths: paths, defaultSymbol: strings.ToUpper(strings.TrimSpace(defaultSymbol))}
	if err := feed.openCurrent(); err != nil {
		return nil, err
	}
	return feed, nil
}

// Skipped counts lines dropped for a missing time, symbol or price.
func (f *JSONLFeed) Skipped() int { return f.skipped }

func (f *JSONLFeed) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	f.scanner = nil
	return err
}

func (f *JSONLFeed) Next() (Tick, error) {
	for {
		if f.scanner == nil {
			if err := f.openCurrent(); err != nil {
				return Tick{}, err
			}
		}
		if !f.scanner.Scan() {
			if err := f.scanner.Err(); err != nil {
				return Tick{}, err
			}
			_ = f.Close()
			f.index++
			if f.index >= len(f.paths) {
				return Tick{}, io.EOF
			}
			continue
		}
		line := strings.TrimSpace(f.scanner.Text())
		if line == "" {
			continue
		}
		tick, ok := f.parseLine(line)
		if !ok {
			f.skipped++
			continue
		}
		return tick, nil
	}
}

func (f *JSONLFeed) parseLine(line string) (Tick, bool) {
	var raw tickLine
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Tick{}, false
	}
	ts, ok := parseTime(raw.Time)
	if !ok {
		ts, ok = parseTime(raw.Timestamp)
	}
	if !ok {
		return Tick{}, false
	}
	price, ok := parsePrice(raw.Price)
	if !ok {
		price, ok = parsePrice(raw.Close)
	}
	if !ok || price.Cmp(decimal.Zero) <= 0 {
		return Tick{}, false
	}
	symbol := strings.ToUpper(strings.TrimSpace(raw.Symbol))
	if symbol == "" {
		symbol = f.defaultSymbol
	}
	if symbol == "" {
		return Tick{}, false
	}
	return Tick{Time: ts.UTC(), Symbol: symbol, Price: price}, true
}

func (f *JSONLFeed) openCurrent() error {
	if f.index >= len(f.paths) {
		return io.EOF
	}
	file, err := os.Open(f.paths[f.index])
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	f.file = file
	f.scanner = scanner
	return nil
}

// Apply feeds ticks into target until the feed ends or a tick is later than
// until. A zero until replays everything. It returns the ticks applied.
func Apply(ctx context.Context, feed Feed, target PriceSetter, until time.Time) (int, error) {
	applied := 0
	for {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		tick, err := feed.Next()
		if errors.Is(err, io.EOF) {
			return applied, nil
		}
		if err != nil {
			return applied, err
		}
		if !until.IsZero() && tick.Time.After(until) {
			return applied, nil
		}
		if err := target.SetPrice(ctx, tick.Symbol, tick.Price); err != nil {
			log.Printf("level=WARN event=replay_tick_rejected symbol=%s price=%s err=%q", tick.Symbol, tick.Price, err.Error())
			return applied, fmt.Errorf("tick %s %s: %w", tick.Symbol, tick.Time.Format(time.RFC3339), err)
		}
		applied++
	}
}

func resolveJSONLPaths(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".jsonl") {
			continue
		}
		paths = append(paths, filepath.Join(path, e.Name()))
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, errors.New("no jsonl files found in directory")
	}
	return paths, nil
}

func parseTime(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n), true
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, false
	}
	if iv, err := n.Int64(); err == nil {
		return fromEpoch(iv), true
	}
	if fv, err := n.Float64(); err == nil {
		return fromEpoch(int64(fv)), true
	}
	return time.Time{}, false
}

// fromEpoch accepts seconds or milliseconds.
func fromEpoch(v int64) time.Time {
	if v >= 1_000_000_000_000 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}

func parsePrice(raw json.RawMessage) (decimal.Decimal, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	v, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}

var _ Feed = (*JSONLFeed)(nil)
