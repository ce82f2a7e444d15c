package timeseries_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vortigont/pzem-edl/pkg/timeseries"
)

func TestSeriesDropsSamplesBeforeFirstInterval(t *testing.T) {
	start := time.Unix(100, 0)
	s := timeseries.New[int](10, time.Second, nil, nil, start)

	s.Put(1, start.Add(time.Millisecond)) // still inside the first bucket: dropped
	require.Equal(t, 0, s.Len())
}

func TestSeriesBucketsOnInterval(t *testing.T) {
	start := time.Unix(999, 0)
	s := timeseries.New[int](10, time.Second, nil, nil, start)
	base := start.Add(time.Second)
	s.Put(1, base)
	s.Put(2, base.Add(500*time.Millisecond)) // within the same bucket, ignored (no averager)
	s.Put(3, base.Add(time.Second))

	got := s.Forward()
	require.Equal(t, []int{1, 3}, got)
}

func TestSeriesBackfillsGapsWithNewestValue(t *testing.T) {
	start := time.Unix(999, 0)
	s := timeseries.New[int](10, time.Second, nil, nil, start)
	base := start.Add(time.Second)
	s.Put(1, base)
	// a 4-interval gap: 3 missed buckets should be back-filled with the
	// newest value (42), not the previous one (1).
	s.Put(42, base.Add(4*time.Second))

	got := s.Forward()
	require.Equal(t, []int{1, 42, 42, 42, 42}, got)
}

func TestSeriesResetsOnGapLargerThanCapacity(t *testing.T) {
	start := time.Unix(999, 0)
	s := timeseries.New[int](3, time.Second, nil, nil, start)
	base := start.Add(time.Second)
	s.Put(1, base)
	s.Put(99, base.Add(10*time.Second)) // gap of 10 buckets > capacity 3

	got := s.Forward()
	require.Equal(t, []int{99}, got)
}

type intAvg struct {
	sum, n int
}

func (a *intAvg) Push(v int) { a.sum += v; a.n++ }
func (a *intAvg) Get() int {
	if a.n == 0 {
		return 0
	}
	return a.sum / a.n
}
func (a *intAvg) Reset()     { a.sum, a.n = 0, 0 }
func (a *intAvg) Count() int { return a.n }

func TestSeriesAveragesWithinBucket(t *testing.T) {
	start := time.Unix(999, 0)
	s := timeseries.New[int](10, time.Second, &intAvg{}, nil, start)
	base := start.Add(time.Second)
	s.Put(10, base)
	s.Put(20, base.Add(200*time.Millisecond))
	s.Put(30, base.Add(900*time.Millisecond))
	s.Put(0, base.Add(time.Second)) // closes the bucket: (10+20+30+0)/4 = 15

	got := s.Forward()
	require.Equal(t, []int{15}, got)
}

func newIntAvg() timeseries.Averager[int] { return &intAvg{} }

func TestContainerFansOutToEverySeries(t *testing.T) {
	c := timeseries.NewContainer[int](time.Second, newIntAvg)
	start := time.Unix(999, 0)

	perSec, err := c.AddSeries(60, start, 1, "per-second", 0)
	require.NoError(t, err)
	per5Sec, err := c.AddSeries(60, start, 5, "per-5-seconds", 0)
	require.NoError(t, err)

	require.Equal(t, 0, c.Size())
	require.Equal(t, 120, c.Capacity())

	base := start.Add(time.Second)
	c.Push(1, base)
	c.Push(2, base.Add(time.Second))
	c.Push(3, base.Add(2*time.Second))
	c.Push(4, base.Add(3*time.Second))
	c.Push(5, base.Add(4*time.Second))
	c.Push(6, base.Add(5*time.Second)) // closes the 5-second bucket on the coarse series

	require.Equal(t, []int{1, 2, 3, 4, 5, 6}, c.Get(perSec).Forward())
	// (1+2+3+4+5+6)/6 = 3
	require.Equal(t, []int{3}, c.Get(per5Sec).Forward())
}

func TestContainerRejectsDuplicatePreferredID(t *testing.T) {
	c := timeseries.NewContainer[int](time.Second, nil)
	start := time.Unix(0, 0)

	_, err := c.AddSeries(10, start, 1, "first", 7)
	require.NoError(t, err)
	_, err = c.AddSeries(10, start, 1, "second", 7)
	require.Error(t, err)
}
