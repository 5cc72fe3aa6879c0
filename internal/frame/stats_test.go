package frame

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageStatsAccumulate(t *testing.T) {
	var stats MessageStats
	stats.SentMessage(HeaderSize + 10)
	stats.SentMessage(HeaderSize + 20)
	assert.Equal(t, uint64(2), stats.SentMessages())
	assert.Equal(t, uint64(46), stats.SentBytes())
}

func TestMessageStatsConcurrent(t *testing.T) {
	var stats MessageStats
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				stats.SentMessage(3)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(8000), stats.SentMessages())
	assert.Equal(t, uint64(24000), stats.SentBytes())
}
