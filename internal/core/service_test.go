package core

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"expirycore/pkg/domain"
)

func TestServiceRecordsMetrics(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	svc := newTestService(t, WithMetrics(rec))
	ctx := context.Background()

	if _, _, err := svc.CreateProduct(ctx, domain.Product{Name: "Milk"}, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.CreateProduct(ctx, domain.Product{Name: " "}, false); err == nil {
		t.Fatalf("expected validation failure")
	}

	snap := rec.Snapshot()
	counts := snap.Results["create_product"]
	if counts["success"] != 1 || counts["error"] != 1 {
		t.Fatalf("unexpected counters %+v", counts)
	}
	if _, ok := snap.DurationsMS["create_product"]; !ok {
		t.Fatalf("duration total missing")
	}
}

func TestServiceLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	svc := newTestService(t, WithLogger(logger))

	if _, _, err := svc.CreateProduct(context.Background(), domain.Product{Name: " "}, false); err == nil {
		t.Fatalf("expected validation failure")
	}
	out := buf.String()
	if !strings.Contains(out, "operation failed") || !strings.Contains(out, "create_product") {
		t.Fatalf("failure not logged: %q", out)
	}
}

func TestWithClockControlsTimestamps(t *testing.T) {
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, WithClock(ClockFunc(func() time.Time { return fixed })))

	// The service clock feeds telemetry; record timestamps come from the
	// store itself, so this only needs to not blow up with a fixed clock.
	if _, _, err := svc.CreateProduct(context.Background(), domain.Product{Name: "Milk"}, false); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestExpiredPendingWarningSurfacesInResult(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, res, err := svc.CreateProduct(ctx, domain.Product{
		Name:    "Old Milk",
		Batches: []domain.Batch{{Label: "expired", ExpiresAt: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)}},
	}, false)
	if err != nil {
		t.Fatalf("expired stock is a warning, not an error: %v", err)
	}
	found := false
	for _, v := range res.Violations {
		if v.Rule == "expired_pending" && v.Severity == domain.SeverityWarn {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an expired_pending warning, got %+v", res.Violations)
	}
	if res.HasBlocking() {
		t.Fatalf("warnings must not block")
	}
}

func TestPrometheusRecorderCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusMetricsRecorder(reg)

	rec.RecordOperation("create_product", 5*time.Millisecond, nil)
	rec.RecordOperation("create_product", time.Millisecond, errDummy)
	rec.RecordOperation("", time.Millisecond, nil)

	if got := promtest.ToFloat64(rec.totals.WithLabelValues("create_product", "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := promtest.ToFloat64(rec.totals.WithLabelValues("create_product", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if got := promtest.CollectAndCount(rec.durations); got != 1 {
		t.Fatalf("expected 1 histogram series, got %d", got)
	}
}

var errDummy = errors.New("dummy")

func TestExpvarRecorderIgnoresEmptyOperation(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	rec.RecordOperation("", time.Millisecond, nil)
	if len(rec.Snapshot().Results) != 0 {
		t.Fatalf("empty operation names must be ignored")
	}
}
