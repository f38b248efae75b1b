package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/specialdays/internal/observance"
)

var _ observance.Clock = (*Clock)(nil)

func TestClockDefaultsToUTC(t *testing.T) {
	t.Parallel()

	clk := New(nil)
	before := time.Now().Add(-time.Second)
	got := clk.Now()
	after := time.Now().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after), "got %v", got)
}

func TestClockUsesLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+14", 14*60*60)
	clk := New(loc)
	require.Equal(t, loc, clk.Location())
	assert.Equal(t, loc, clk.Now().Location())

	first := clk.Now()
	second := clk.Now()
	assert.False(t, second.Before(first))
}
