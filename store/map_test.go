package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeIsAtomic(t *testing.T) {
	m := New[string, int]()
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			for range 100 {
				m.Compute("k", func(old int, ok bool) int {
					return old + 1
				})
			}
		})
	}
	wg.Wait()
	v, ok := m.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 5000, v)
}

func TestComputeSeesAbsence(t *testing.T) {
	m := New[string, []string]()
	m.Compute("k", func(old []string, ok bool) []string {
		assert.False(t, ok)
		return append(old, "a")
	})
	m.Compute("k", func(old []string, ok bool) []string {
		assert.True(t, ok)
		return append(old, "b")
	})
	v, _ := m.Get("k")
	assert.Equal(t, []string{"a", "b"}, v)
}

func TestRangeAllowsReentry(t *testing.T) {
	m := New[int, int]()
	for i := range 5 {
		m.Compute(i, func(int, bool) int { return i * i })
	}
	seen := 0
	m.Range(func(k, v int) bool {
		// would deadlock if Range held the lock
		m.Compute(k+100, func(int, bool) int { return v })
		seen++
		return true
	})
	assert.Equal(t, 5, seen)
	assert.Equal(t, 10, m.Len())

	m.Delete(0)
	_, ok := m.Get(0)
	assert.False(t, ok)
}
