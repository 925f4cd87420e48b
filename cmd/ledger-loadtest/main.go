// Command ledger-loadtest нагружает платёжный сервис параллельными hold/confirm/cancel
// и после прогона сверяет итоговый баланс с подтверждёнными списаниями.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/market/internal/client/payments"
	"github.com/vladislavdragonenkov/market/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/market/internal/service/grpc"
)

const (
	transportHTTP = "http"
	transportGRPC = "grpc"
)

// Исходы вызовов в отчёте.
const (
	outcomeOK           = "ok"
	outcomeInsufficient = "insufficient_funds"
	outcomeNotFound     = "hold_not_found"
	outcomeUnavailable  = "unavailable"
	outcomeOther        = "other"
)

type config struct {
	transport   string
	url         string
	addr        string
	total       int
	concurrency int
	timeout     time.Duration
	amountMinor int64
	cancelRate  int
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type opReport struct {
	Calls     int64            `json:"calls"`
	Outcomes  map[string]int64 `json:"outcomes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt       time.Time           `json:"started_at"`
	DurationSeconds float64             `json:"duration_seconds"`
	Scenarios       int64               `json:"scenarios"`
	RPS             float64             `json:"rps"`
	Ops             map[string]opReport `json:"ops"`
	InitialMinor    int64               `json:"initial_balance_minor"`
	FinalMinor      int64               `json:"final_balance_minor"`
	ConfirmedMinor  int64               `json:"confirmed_minor"`
	// BalanceConsistent: initial - confirmed == final. Верно только без посторонней нагрузки на леджер.
	BalanceConsistent bool `json:"balance_consistent"`
	// Failed: вызовы с исходом unavailable или other.
	Failed int64 `json:"failed"`
}

type opStats struct {
	outcomes  map[string]int64
	latencies []float64
}

type collector struct {
	mu  sync.Mutex
	ops map[string]*opStats
}

func newCollector() *collector {
	return &collector{ops: make(map[string]*opStats)}
}

func (c *collector) record(op string, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.ops[op]
	if !ok {
		stats = &opStats{outcomes: make(map[string]int64)}
		c.ops[op] = stats
	}
	stats.outcomes[outcome(err)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) build(r *report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r.Ops = make(map[string]opReport, len(c.ops))
	for name, stats := range c.ops {
		var calls int64
		outcomes := make(map[string]int64, len(stats.outcomes))
		for k, v := range stats.outcomes {
			outcomes[k] = v
			calls += v
			if k == outcomeUnavailable || k == outcomeOther {
				r.Failed += v
			}
		}
		r.Ops[name] = opReport{Calls: calls, Outcomes: outcomes, LatencyMs: buildLatencySummary(stats.latencies)}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, domain.ErrInsufficientFunds):
		return outcomeInsufficient
	case errors.Is(err, domain.ErrHoldNotFound):
		return outcomeNotFound
	case errors.Is(err, domain.ErrLedgerUnavailable):
		return outcomeUnavailable
	default:
		return outcomeOther
	}
}

func parseConfig(args []string) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("ledger-loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.transport, "transport", transportHTTP, "ledger transport: http | grpc")
	fs.StringVar(&cfg.url, "url", "http://localhost:8081", "payments HTTP base url")
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "payments gRPC address")
	fs.IntVar(&cfg.total, "total", 400, "number of hold scenarios")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 3*time.Second, "per-call timeout")
	fs.Int64Var(&cfg.amountMinor, "amount-minor", 100, "hold amount in minor units")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 30, "percent of holds released instead of confirmed (0..100)")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.transport = strings.ToLower(strings.TrimSpace(cfg.transport))
	switch {
	case cfg.transport != transportHTTP && cfg.transport != transportGRPC:
		return cfg, fmt.Errorf("unsupported transport: %s", cfg.transport)
	case cfg.total <= 0:
		return cfg, errors.New("total must be > 0")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.amountMinor <= 0:
		return cfg, errors.New("amount-minor must be > 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	}
	return cfg, nil
}

// newLedger строит клиента леджера без circuit breaker: отказы должны попасть в отчёт как есть.
func newLedger(cfg config) (domain.PaymentLedger, func() error, error) {
	logger := log.WithField("component", "ledger-loadtest")
	switch cfg.transport {
	case transportGRPC:
		conn, err := grpcsvc.DialLedger(cfg.addr)
		if err != nil {
			return nil, nil, err
		}
		return grpcsvc.NewLedgerClient(conn, cfg.timeout, logger), conn.Close, nil
	default:
		client, err := payments.NewHTTPClient(cfg.url, payments.Timeouts{Connect: cfg.timeout, Response: cfg.timeout}, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, func() error { return nil }, nil
	}
}

func shouldCancel(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

func call(ctx context.Context, col *collector, op string, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	col.record(op, time.Since(start), err)
	return err
}

// runScenario ставит hold и закрывает его; возвращает подтверждённую сумму.
func runScenario(ctx context.Context, l domain.PaymentLedger, cfg config, index int, col *collector) int64 {
	var holdID string
	err := call(ctx, col, "hold", cfg.timeout, func(ctx context.Context) error {
		id, err := l.Hold(ctx, cfg.amountMinor)
		holdID = id
		return err
	})
	if err != nil {
		return 0
	}

	if shouldCancel(index, cfg.cancelRate) {
		_ = call(ctx, col, "cancel", cfg.timeout, func(ctx context.Context) error { return l.Cancel(ctx, holdID) })
		return 0
	}
	if err := call(ctx, col, "confirm", cfg.timeout, func(ctx context.Context) error { return l.Confirm(ctx, holdID) }); err != nil {
		return 0
	}
	return cfg.amountMinor
}

func run(ctx context.Context, l domain.PaymentLedger, cfg config) (report, error) {
	initial, err := l.Balance(ctx)
	if err != nil {
		return report{}, fmt.Errorf("read initial balance: %w", err)
	}

	col := newCollector()
	startedAt := time.Now()
	jobs := make(chan int, cfg.concurrency*2)
	var confirmed int64
	var wg sync.WaitGroup

	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				atomic.AddInt64(&confirmed, runScenario(ctx, l, cfg, index, col))
			}
		}()
	}
	for i := 0; i < cfg.total; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	duration := time.Since(startedAt)

	final, err := l.Balance(ctx)
	if err != nil {
		return report{}, fmt.Errorf("read final balance: %w", err)
	}

	result := report{
		StartedAt:         startedAt.UTC(),
		DurationSeconds:   duration.Seconds(),
		Scenarios:         int64(cfg.total),
		InitialMinor:      initial,
		FinalMinor:        final,
		ConfirmedMinor:    confirmed,
		BalanceConsistent: initial-confirmed == final,
	}
	if duration > 0 {
		result.RPS = float64(cfg.total) / duration.Seconds()
	}
	col.build(&result)
	return result, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	l, closeFn, err := newLedger(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to create ledger client: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closeFn() }()

	result, err := run(context.Background(), l, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.Failed > 0 || !result.BalanceConsistent {
		os.Exit(1)
	}
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь задаётся явным флагом CLI.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Ledger load test summary")
	_, _ = fmt.Fprintf(w, "transport=%s scenarios=%d concurrency=%d duration=%.2fs rps=%.2f failed=%d\n",
		cfg.transport, result.Scenarios, cfg.concurrency, result.DurationSeconds, result.RPS, result.Failed)
	_, _ = fmt.Fprintf(w, "balance: initial=%d confirmed=%d final=%d consistent=%t\n",
		result.InitialMinor, result.ConfirmedMinor, result.FinalMinor, result.BalanceConsistent)

	names := make([]string, 0, len(result.Ops))
	for name := range result.Ops {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		op := result.Ops[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d ok=%d insufficient=%d not_found=%d unavailable=%d p95=%.2fms\n",
			name, op.Calls, op.Outcomes[outcomeOK], op.Outcomes[outcomeInsufficient],
			op.Outcomes[outcomeNotFound], op.Outcomes[outcomeUnavailable], op.LatencyMs.P95)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}
