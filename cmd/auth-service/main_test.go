package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/signal-auth/internal/metrics"
)

type fakePurger struct {
	refresh, verification int64
	err                   error
	calls                 atomic.Int32
}

func (f *fakePurger) PurgeExpired(context.Context) (int64, int64, error) {
	f.calls.Add(1)
	return f.refresh, f.verification, f.err
}

func TestPurgeOnce_LogsCounts(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	purgeOnce(context.Background(), &fakePurger{refresh: 2, verification: 1}, metrics.New(prometheus.NewRegistry()), log)
	require.Contains(t, buf.String(), "token_janitor_purged")

	buf.Reset()
	purgeOnce(context.Background(), &fakePurger{err: errors.New("db down")}, nil, log)
	require.Contains(t, buf.String(), "token_janitor_failed")

	buf.Reset()
	purgeOnce(context.Background(), &fakePurger{}, nil, log)
	require.Empty(t, buf.String())
}

func TestStartJanitor_TicksUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &fakePurger{}
	startJanitor(ctx, p, nil, slog.Default(), 10*time.Millisecond)

	require.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
}

func TestStartJanitor_DisabledForNonPositivePeriod(t *testing.T) {
	p := &fakePurger{}
	startJanitor(context.Background(), p, nil, slog.Default(), 0)

	time.Sleep(20 * time.Millisecond)
	require.Zero(t, p.calls.Load())
}
