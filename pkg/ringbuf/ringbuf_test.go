package ringbuf_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vortigont/pzem-edl/pkg/ringbuf"
)

func TestRingOverwritesOldestWhenFull(t *testing.T) {
	r := ringbuf.New[int](3, nil)
	r.Push(1)
	r.Push(2)
	r.Push(3)
	r.Push(4) // overwrites 1

	require.Equal(t, 3, r.Len())
	oldest, ok := r.Oldest()
	require.True(t, ok)
	require.Equal(t, 2, oldest)
	newest, ok := r.Newest()
	require.True(t, ok)
	require.Equal(t, 4, newest)
}

func TestRingForwardReverseIteration(t *testing.T) {
	r := ringbuf.New[int](4, nil)
	for _, v := range []int{10, 20, 30} {
		r.Push(v)
	}
	var fwd []int
	for it := r.Forward(); it.Next(); {
		fwd = append(fwd, it.Value())
	}
	require.Equal(t, []int{10, 20, 30}, fwd)

	var rev []int
	for it := r.Reverse(); it.Next(); {
		rev = append(rev, it.Value())
	}
	require.Equal(t, []int{30, 20, 10}, rev)
}

func TestRingAllocationFailureIsInert(t *testing.T) {
	failing := ringbuf.Allocator[int](func(n int) ([]int, bool) { return nil, false })
	r := ringbuf.New[int](10, failing)
	require.True(t, r.Broken())
	r.Push(1)
	require.Equal(t, 0, r.Len())
}

func TestRingEmptyOldestNewest(t *testing.T) {
	r := ringbuf.New[int](2, nil)
	_, ok := r.Oldest()
	require.False(t, ok)
	_, ok = r.Newest()
	require.False(t, ok)
}
