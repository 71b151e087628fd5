package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"spot-sim/internal/config"
	"spot-sim/internal/exchange/binance"
	"spot-sim/internal/store"
	"spot-sim/internal/userdata"
)

type dateWriter struct {
	root        string
	currentDate string
	currentFile *os.File
}

func newDateWriter(root string) (*dateWriter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &dateWriter{root: root}, nil
}

func (w *dateWriter) write(date string, line []byte) error {
	if err := w.rotate(date); err != nil {
		return err
	}
	_, err := w.currentFile.Write(append(line, '\n'))
	return err
}

func (w *dateWriter) rotate(date string) error {
	if date == w.currentDate && w.currentFile != nil {
		return nil
	}
	if err := w.close(); err != nil {
		return err
	}
	path := filepath.Join(w.root, date+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.currentFile = f
	w.currentDate = date
	return nil
}

func (w *dateWriter) close() error {
	if w == nil || w.currentFile == nil {
		return nil
	}
	if err := w.currentFile.Sync(); err != nil {
		_ = w.currentFile.Close()
		w.currentFile = nil
		return err
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}

// eventRecorder appends raw user data frames to daily files.
type eventRecorder struct {
	writer *dateWriter
	now    func() time.Time
	count  int
	done   chan struct{}
}

func (r *eventRecorder) OnOpen() {
	log.Printf("level=INFO event=snapshot_stream_open dir=%q", r.writer.root)
}

func (r *eventRecorder) OnMessage(payload []byte) {
	name := "unknown"
	if ev, err := userdata.Decode(payload); err == nil {
		name = ev.EventName()
	}
	if err := r.writer.write(r.now().UTC().Format("2006-01-02"), payload); err != nil {
		log.Printf("level=ERROR event=snapshot_stream_write_failed err=%q", err.Error())
		return
	}
	r.count++
	log.Printf("level=INFO event=snapshot_stream_event type=%s total=%d", name, r.count)
}

func (r *eventRecorder) OnClose(code int, reason string) {
	log.Printf("level=INFO event=snapshot_stream_closed code=%d reason=%q events=%d", code, reason, r.count)
	close(r.done)
}

func main() {
	var (
		configPath string
		outDir     string
		watch      time.Duration
		timeout    int
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.StringVar(&outDir, "out-dir", "", "state dir to record into (defaults to state.dir)")
	flag.DurationVar(&watch, "watch", 0, "after the snapshot, record user data events for this long")
	flag.IntVar(&timeout, "timeout-sec", 30, "snapshot timeout seconds")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	if cfg.Exchange.APIKey == "" || cfg.Exchange.APISecret == "" {
		fatal("exchange.api_key/api_secret are required to record a snapshot")
	}
	outDir = strings.TrimSpace(outDir)
	if outDir == "" {
		outDir = cfg.State.Dir
	}
	st, err := store.New(outDir)
	if err != nil {
		fatal(err.Error())
	}
	lock, err := store.AcquireSessionLock(st.Root())
	if err != nil {
		fatal(err.Error())
	}
	defer func() {
		if relErr := lock.Release(); relErr != nil {
			fmt.Fprintf(os.Stderr, "release session lock failed: %v\n", relErr)
		}
	}()

	symbols := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols = append(symbols, s.Symbol)
	}
	client, err := binance.NewClient(cfg.Exchange, symbols)
	if err != nil {
		fatal(err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	snap, err := client.Snapshot(snapCtx)
	cancel()
	if err != nil {
		fatal(err.Error())
	}
	if err := st.SaveMarketSnapshot(snap); err != nil {
		fatal(err.Error())
	}
	fmt.Printf("snapshot: network=%s assets=%d symbols=%d prices=%d taken_at=%s dir=%s\n",
		cfg.Exchange.Network,
		len(snap.Account.Balances),
		len(snap.Symbols),
		len(snap.Prices),
		snap.TakenAt.Format(time.RFC3339),
		st.Root(),
	)

	if watch <= 0 {
		return
	}
	writer, err := newDateWriter(filepath.Join(st.Root(), "events"))
	if err != nil {
		fatal(err.Error())
	}
	defer func() {
		if closeErr := writer.close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "close writer failed: %v\n", closeErr)
		}
	}()

	watchCtx, cancelWatch := context.WithTimeout(ctx, watch)
	defer cancelWatch()
	stream, err := client.NewUserStream(watchCtx, time.Duration(cfg.Exchange.UserStreamKeepaliveSec)*time.Second)
	if err != nil {
		fatal(err.Error())
	}
	rec := &eventRecorder{writer: writer, now: time.Now, done: make(chan struct{})}
	stream.Forward(watchCtx, rec)
	<-rec.done
	fmt.Printf("done: events=%d output=%s\n", rec.count, writer.root)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(msg))
	os.Exit(1)
}
