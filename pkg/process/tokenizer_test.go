package process

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountTokens(t *testing.T) {
	n := CountTokens("How long does shipping take to Canada?")
	assert.Greater(t, n, 0)
}

func TestCountTokens_Empty(t *testing.T) {
	assert.Equal(t, 0, CountTokens(""))
}

func TestCountTokens_GrowsWithText(t *testing.T) {
	short := CountTokens("hello world")
	long := CountTokens(strings.Repeat("hello world ", 50))
	assert.Greater(t, long, short)
}
