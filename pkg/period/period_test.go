package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	m, err := Parse("2025-02")
	require.NoError(t, err)
	assert.Equal(t, Month{Year: 2025, Month: time.February}, m)
	assert.Equal(t, "2025-02", m.String())

	for _, raw := range []string{"2025-13", "2025-1", "25-01", "2025/01", "", "2025-00", "2025-01-01"} {
		_, err := Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidMonth, raw)
	}
}

func TestRangeAcrossYearBoundary(t *testing.T) {
	from, _ := Parse("2024-11")
	to, _ := Parse("2025-02")
	got := Range(from, to)
	require.Len(t, got, 4)
	assert.Equal(t, "2024-12", got[1].String())
	assert.Equal(t, "2025-01", got[2].String())
	assert.Empty(t, Range(to, from))
}

func TestDaysAndDate(t *testing.T) {
	feb24, _ := Parse("2024-02")
	feb25, _ := Parse("2025-02")
	assert.Equal(t, 29, feb24.Days())
	assert.Equal(t, 28, feb25.Days())
	assert.Equal(t, 28, feb25.Date(31).Day())
	assert.Equal(t, 1, feb25.Date(0).Day())
}

func TestAddMonths(t *testing.T) {
	m, _ := Parse("2025-12")
	assert.Equal(t, "2026-01", m.AddMonths(1).String())
	assert.Equal(t, "2025-01", m.AddMonths(-11).String())
}
