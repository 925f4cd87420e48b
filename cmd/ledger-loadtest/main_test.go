package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/market/internal/domain"
	"github.com/vladislavdragonenkov/market/internal/ledger"
)

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig(nil)
	require.NoError(t, err)
	require.Equal(t, transportHTTP, cfg.transport)
	require.Equal(t, 400, cfg.total)
	require.Equal(t, 3*time.Second, cfg.timeout)

	cfg, err = parseConfig([]string{"-transport=GRPC", "-addr=payments:50051", "-total=10", "-cancel-rate=100"})
	require.NoError(t, err)
	require.Equal(t, transportGRPC, cfg.transport)
	require.Equal(t, "payments:50051", cfg.addr)

	for _, args := range [][]string{
		{"-transport=amqp"},
		{"-total=0"},
		{"-concurrency=-1"},
		{"-timeout=0s"},
		{"-amount-minor=0"},
		{"-cancel-rate=101"},
		{"-unknown"},
	} {
		_, err := parseConfig(args)
		require.Error(t, err, "args %v", args)
	}
}

func TestOutcome(t *testing.T) {
	require.Equal(t, outcomeOK, outcome(nil))
	require.Equal(t, outcomeInsufficient, outcome(&domain.InsufficientFundsError{BalanceMinor: 1, AmountMinor: 2}))
	require.Equal(t, outcomeNotFound, outcome(domain.ErrHoldNotFound))
	require.Equal(t, outcomeUnavailable, outcome(fmt.Errorf("%w: timeout", domain.ErrLedgerUnavailable)))
	require.Equal(t, outcomeOther, outcome(errors.New("boom")))
}

func TestShouldCancel(t *testing.T) {
	require.False(t, shouldCancel(5, 0))
	require.True(t, shouldCancel(99, 100))
	require.True(t, shouldCancel(129, 30))
	require.False(t, shouldCancel(130, 30))
}

func TestRun_BalanceStaysConsistent(t *testing.T) {
	l := ledger.New(10_000)
	cfg := config{transport: transportHTTP, total: 200, concurrency: 16, timeout: time.Second, amountMinor: 100, cancelRate: 30}

	result, err := run(context.Background(), l, cfg)
	require.NoError(t, err)

	// 10000 покрывает ровно 100 подтверждений: часть hold упрётся в нехватку средств.
	require.True(t, result.BalanceConsistent, "report: %+v", result)
	require.Zero(t, result.Failed)
	require.Equal(t, int64(10_000), result.InitialMinor)
	require.Equal(t, result.InitialMinor-result.ConfirmedMinor, result.FinalMinor)
	require.GreaterOrEqual(t, result.FinalMinor, int64(0))
	require.Equal(t, int64(200), result.Ops["hold"].Calls)
	require.Zero(t, l.Snapshot().OpenHolds)
	require.Zero(t, l.Snapshot().HeldMinor)
}

type unavailableLedger struct{ domain.PaymentLedger }

func (unavailableLedger) Balance(context.Context) (int64, error) {
	return 0, domain.ErrLedgerUnavailable
}

func TestRun_InitialBalanceError(t *testing.T) {
	_, err := run(context.Background(), unavailableLedger{}, config{total: 1, concurrency: 1, timeout: time.Second, amountMinor: 1})
	require.ErrorIs(t, err, domain.ErrLedgerUnavailable)
}

func TestBuildLatencySummary(t *testing.T) {
	require.Equal(t, latencySummary{}, buildLatencySummary(nil))

	summary := buildLatencySummary([]float64{4, 1, 3, 2})
	require.Equal(t, 1.0, summary.Min)
	require.Equal(t, 4.0, summary.Max)
	require.Equal(t, 2.5, summary.Avg)
	require.Equal(t, 2.5, summary.P50)
}

func TestWriteJSONReportAndPrint(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	result := report{Scenarios: 3, FinalMinor: 7, BalanceConsistent: true, Ops: map[string]opReport{
		"hold": {Calls: 3, Outcomes: map[string]int64{outcomeOK: 3}},
	}}
	require.NoError(t, writeJSONReport("report.json", result))
	require.Error(t, writeJSONReport("../escape.json", result))
	require.Error(t, writeJSONReport(".", result))

	raw, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	var decoded report
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, int64(7), decoded.FinalMinor)

	var out bytes.Buffer
	printReport(&out, result, config{transport: transportHTTP, concurrency: 1})
	require.True(t, strings.Contains(out.String(), "hold: calls=3 ok=3"), out.String())
	require.True(t, strings.Contains(out.String(), "consistent=true"), out.String())
}
