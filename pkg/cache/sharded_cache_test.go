package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShardedSetGetDelete(t *testing.T) {
	c := New[int]()

	_, ok := c.Get("005930")
	assert.False(t, ok)

	c.Set("005930", 1)
	c.Set("000660", 2)
	v, ok := c.Get("005930")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())

	c.Delete("005930")
	_, ok = c.Get("005930")
	assert.False(t, ok)
	assert.Equal(t, map[string]int{"000660": 2}, c.Snapshot())
}

func TestShardedCleanup(t *testing.T) {
	c := New[string]()
	c.Set("a", "x")
	time.Sleep(20 * time.Millisecond)
	c.Set("b", "y")

	removed := c.Cleanup(10 * time.Millisecond)
	assert.Equal(t, 1, removed)
	_, ok := c.Get("b")
	assert.True(t, ok)
}

func TestShardedConcurrentAccess(t *testing.T) {
	c := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			c.Set(key, i)
			_, _ = c.Get(key)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 32, c.Len())
}
