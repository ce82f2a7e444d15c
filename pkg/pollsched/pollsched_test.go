package pollsched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsJobOnPeriod(t *testing.T) {
	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	ticks := make(chan struct{}, 8)
	require.NoError(t, s.SetPeriod(func(context.Context) {
		select {
		case ticks <- struct{}{}:
		default:
		}
	}, 10*time.Millisecond))

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
}

func TestSchedulerClearsOnNonPositivePeriod(t *testing.T) {
	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	require.NoError(t, s.SetPeriod(func(context.Context) {}, 10*time.Millisecond))
	require.NoError(t, s.SetPeriod(nil, 0))
}
