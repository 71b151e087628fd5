package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"spot-sim/internal/config"
	"spot-sim/internal/exchange"
	"spot-sim/internal/exchange/binance"
	"spot-sim/internal/replay"
	"spot-sim/internal/sim"
	"spot-sim/internal/store"
)

type checkStatus string

const (
	statusPass checkStatus = "PASS"
	statusFail checkStatus = "FAIL"
)

type checkResult struct {
	Name       string      `json:"name"`
	Status     checkStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Detail     string      `json:"detail,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type report struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Source     config.Source `json:"source"`
	Symbol     string        `json:"symbol"`
	Checks     []checkResult `json:"checks"`
}

func main() {
	var (
		configPath  string
		timeoutSec  int
		outJSONPath string
		metricsOut  string
		checkFlag   string
		resume      bool
		pricesPath  string
		priceSymbol string
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.IntVar(&timeoutSec, "timeout-sec", 60, "total timeout seconds")
	flag.StringVar(&outJSONPath, "out-json", "", "optional output report path")
	flag.StringVar(&metricsOut, "metrics-out", "", "optional prometheus text file written after the run")
	flag.StringVar(&checkFlag, "check", "all", "checks to run: all | comma list (preflight,market,limit,test,funding,stream)")
	flag.BoolVar(&resume, "resume", false, "restore the last saved session from state.dir before running")
	flag.StringVar(&pricesPath, "prices", "", "optional .jsonl file or dir of recorded prices replayed before the checks")
	flag.StringVar(&priceSymbol, "prices-symbol", "", "symbol for price lines that carry none")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	checks, err := parseCheckFlag(checkFlag)
	if err != nil {
		fatal(err.Error())
	}
	if timeoutSec < 5 {
		timeoutSec = 5
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	var st *store.Store
	if cfg.Source != config.SourceStatic || resume {
		st, err = store.New(cfg.State.Dir)
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
	}
	source, err := buildSource(cfg, st)
	if err != nil {
		fatal(err.Error())
	}

	registry := prometheus.NewRegistry()
	opts := sim.Options{
		CommissionRate: cfg.Simulator.CommissionRate.Decimal,
		WithdrawFee:    cfg.Simulator.WithdrawFee.Decimal,
		Publish:        cfg.Simulator.PublishEvents,
	}
	if cfg.Simulator.Metrics || metricsOut != "" {
		opts.Registry = registry
	}
	if st != nil {
		opts.Journal = st
	}
	simulator := sim.New(source, opts)

	if resume {
		state, ok, err := st.LoadSession()
		if err != nil {
			fatal(err.Error())
		}
		if ok {
			if err := simulator.Restore(ctx, state); err != nil {
				fatal(err.Error())
			}
		} else {
			log.Printf("level=WARN event=simcheck_resume_skipped reason=%q dir=%q", "no saved session", st.Root())
		}
	}

	if pricesPath != "" {
		feed, err := replay.NewJSONLFeed(pricesPath, priceSymbol)
		if err != nil {
			fatal(err.Error())
		}
		applied, err := replay.Apply(ctx, feed, simulator, time.Time{})
		_ = feed.Close()
		if err != nil {
			fatal(err.Error())
		}
		log.Printf("level=INFO event=simcheck_prices_replayed ticks=%d skipped=%d path=%q", applied, feed.Skipped(), pricesPath)
	}

	r := report{StartedAt: time.Now().UTC(), Source: cfg.Source}
	run := func(name string, fn func() (string, error)) {
		start := time.Now()
		detail, err := fn()
		cr := checkResult{
			Name:       name,
			DurationMs: time.Since(start).Milliseconds(),
			Detail:     detail,
		}
		if err != nil {
			cr.Status = statusFail
			cr.Error = err.Error()
		} else {
			cr.Status = statusPass
		}
		r.Checks = append(r.Checks, cr)
		if cr.Status == statusPass {
			fmt.Printf("[PASS] %s (%dms)", name, cr.DurationMs)
			if cr.Detail != "" {
				fmt.Printf(" - %s", cr.Detail)
			}
			fmt.Println()
		} else {
			fmt.Printf("[FAIL] %s (%dms) - %s\n", name, cr.DurationMs, cr.Error)
		}
	}

	c := &checker{sim: simulator}
	run("account_preflight", func() (string, error) { return c.preflight(ctx) })
	r.Symbol = c.market.Symbol
	if c.market.Symbol != "" {
		if checks.market {
			run("market_order_settlement", func() (string, error) { return c.marketOrder(ctx) })
		}
		if checks.limit {
			run("limit_order_place_query_cancel", func() (string, error) { return c.limitLifecycle(ctx) })
		}
		if checks.test {
			run("test_order_isolation", func() (string, error) { return c.testOrderIsolation(ctx) })
		}
	}
	if checks.funding {
		run("withdraw_and_history", func() (string, error) { return c.withdrawal(ctx) })
	}
	if checks.stream {
		run("user_stream_events", func() (string, error) { return c.stream(ctx) })
	}

	r.FinishedAt = time.Now().UTC()
	printSummary(r)

	if st != nil {
		state, err := simulator.Export(ctx)
		if err == nil {
			err = st.SaveSession(state)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "save session failed: %v\n", err)
		}
	}
	if outJSONPath != "" {
		if err := writeReport(outJSONPath, r); err != nil {
			fatal(err.Error())
		}
	}
	if metricsOut != "" {
		if err := prometheus.WriteToTextfile(metricsOut, registry); err != nil {
			fatal(err.Error())
		}
	}
	for _, cr := range r.Checks {
		if cr.Status == statusFail {
			os.Exit(1)
		}
	}
}

func buildSource(cfg config.Config, st *store.Store) (exchange.MarketDataSource, error) {
	switch cfg.Source {
	case config.SourceStatic:
		return exchange.StaticSource{Snap: cfg.StaticSnapshot(time.Now().UTC())}, nil
	case config.SourceSnapshot:
		if st == nil {
			return nil, errors.New("snapshot source requires state.dir")
		}
		return st, nil
	case config.SourceBinance:
		symbols := make([]string, 0, len(cfg.Symbols))
		for _, s := range cfg.Symbols {
			symbols = append(symbols, s.Symbol)
		}
		return binance.NewClient(cfg.Exchange, symbols)
	default:
		return nil, fmt.Errorf("unsupported source %q", cfg.Source)
	}
}

type selectedChecks struct {
	market  bool
	limit   bool
	test    bool
	funding bool
	stream  bool
}

func parseCheckFlag(raw string) (selectedChecks, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" || raw == "all" {
		return selectedChecks{market: true, limit: true, test: true, funding: true, stream: true}, nil
	}
	var out selectedChecks
	for _, p := range strings.Split(raw, ",") {
		switch name := strings.TrimSpace(p); name {
		case "", "preflight", "account_preflight":
			continue
		case "market", "market_order_settlement":
			out.market = true
		case "limit", "limit_order_place_query_cancel":
			out.limit = true
		case "test", "test_order_isolation":
			out.test = true
		case "funding", "withdraw", "withdraw_and_history":
			out.funding = true
		case "stream", "user_stream_events":
			out.stream = true
		default:
			return selectedChecks{}, fmt.Errorf("unknown check: %s", name)
		}
	}
	return out, nil
}

func printSummary(r report) {
	pass := 0
	fail := 0
	for _, c := range r.Checks {
		if c.Status == statusPass {
			pass++
		} else {
			fail++
		}
	}
	fmt.Printf("\nsummary source=%s symbol=%s pass=%d fail=%d duration=%s\n",
		r.Source,
		r.Symbol,
		pass,
		fail,
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
	)
}

func writeReport(path string, r report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(msg))
	os.Exit(1)
}
