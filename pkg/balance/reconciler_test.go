package balance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"riddle-swap/pkg/types"
)

func waitDone(t *testing.T, p *Poll) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not stop")
	}
}

func TestStopsAfterAttemptsUnderContinuousFailure(t *testing.T) {
	r := NewReconciler(Config{Interval: 5 * time.Millisecond, Attempts: 5}, zaptest.NewLogger(t))
	defer r.Close()

	var calls atomic.Int32
	p := r.Start(context.Background(), Job{
		Key: "xrpl|rWallet",
		Fetch: func(context.Context) ([]types.Balance, error) {
			calls.Add(1)
			return nil, errors.New("indexer lagging")
		},
	})
	waitDone(t, p)

	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, 5, p.Attempts())
	assert.Equal(t, 0, r.Active())

	// Nothing fires after the poll ended
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(5), calls.Load())
}

func TestUntilEndsEarly(t *testing.T) {
	r := NewReconciler(Config{Interval: 5 * time.Millisecond, Attempts: 10}, nil)
	defer r.Close()

	var calls atomic.Int32
	var updates atomic.Int32
	p := r.Start(context.Background(), Job{
		Key: "evm|0xabc",
		Fetch: func(context.Context) ([]types.Balance, error) {
			n := calls.Add(1)
			return []types.Balance{{Amount: decimal.NewFromInt(int64(n))}}, nil
		},
		OnUpdate: func([]types.Balance) { updates.Add(1) },
		Until: func(b []types.Balance) bool {
			return b[0].Amount.GreaterThanOrEqual(decimal.NewFromInt(3))
		},
	})
	waitDone(t, p)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(3), updates.Load())
}

func TestCloseCancelsPolls(t *testing.T) {
	r := NewReconciler(Config{Interval: time.Hour, Attempts: 5}, nil)

	p := r.Start(context.Background(), Job{
		Key:   "solana|wallet",
		Fetch: func(context.Context) ([]types.Balance, error) { return nil, nil },
	})
	require.Equal(t, 1, r.Active())

	r.Close()
	waitDone(t, p)
	assert.Equal(t, 0, p.Attempts())

	// Starting after Close yields a finished poll
	late := r.Start(context.Background(), Job{Key: "late", Fetch: func(context.Context) ([]types.Balance, error) { return nil, nil }})
	waitDone(t, late)
}

func TestSameKeyReplacesPoll(t *testing.T) {
	r := NewReconciler(Config{Interval: time.Hour}, nil)
	defer r.Close()

	fetch := func(context.Context) ([]types.Balance, error) { return nil, nil }
	first := r.Start(context.Background(), Job{Key: "k", Fetch: fetch})
	second := r.Start(context.Background(), Job{Key: "k", Fetch: fetch})

	waitDone(t, first)
	assert.Equal(t, 1, r.Active())

	second.Stop()
	waitDone(t, second)
	assert.Equal(t, 0, r.Active())
}

func TestParentContextCancels(t *testing.T) {
	r := NewReconciler(Config{Interval: time.Hour}, nil)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := r.Start(ctx, Job{Key: "k", Fetch: func(context.Context) ([]types.Balance, error) { return nil, nil }})
	cancel()
	waitDone(t, p)
}

func TestDefaults(t *testing.T) {
	r := NewReconciler(Config{}, nil)
	assert.Equal(t, DefaultInterval, r.cfg.Interval)
	assert.Equal(t, DefaultAttempts, r.cfg.Attempts)
}
