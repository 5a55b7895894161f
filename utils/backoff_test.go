package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff(t *testing.T) {
	b := NewExponentialBackoff(10*time.Millisecond, 50*time.Millisecond)

	assert.Equal(t, 10*time.Millisecond, b.NextDelay())
	assert.Equal(t, 20*time.Millisecond, b.NextDelay())
	assert.Equal(t, 40*time.Millisecond, b.NextDelay())
	assert.Equal(t, 50*time.Millisecond, b.NextDelay())
	assert.Equal(t, 50*time.Millisecond, b.NextDelay())

	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.NextDelay())
}

func TestExponentialBackoffDefaults(t *testing.T) {
	b := NewExponentialBackoff(0, 0)
	assert.Equal(t, 100*time.Millisecond, b.NextDelay())

	b = NewExponentialBackoff(time.Second, time.Millisecond)
	assert.Equal(t, time.Second, b.NextDelay())
	assert.Equal(t, time.Second, b.NextDelay())
}
