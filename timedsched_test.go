package plc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimedSched(t *testing.T) {
	ts := NewTimedSched(2)
	defer ts.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)
	for i, d := range []time.Duration{60 * time.Millisecond, 20 * time.Millisecond, 0} {
		i := i
		ts.Put(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}, d)
	}
	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 1, 0}, order)
}

func TestTimedSchedDelay(t *testing.T) {
	ts := NewTimedSched(1)
	defer ts.Close()

	start := time.Now()
	done := make(chan time.Duration, 1)
	ts.Put(func() { done <- time.Since(start) }, 30*time.Millisecond)
	select {
	case d := <-done:
		assert.True(t, d >= 30*time.Millisecond, "fired after %v", d)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}
