package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second)

	var got []time.Duration
	for i := 0; i < 7; i++ {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}, got)
	assert.Equal(t, 7, b.Attempts())
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second)
	b.Next()
	b.Next()
	b.Reset()

	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 1, b.Attempts())
}
