package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"PT1H", time.Hour},
		{"PT2H30M", 2*time.Hour + 30*time.Minute},
		{"PT0.5S", 500 * time.Millisecond},
		{"P1D", Day},
		{"P2W", 2 * Week},
		{"P1M", Month},
		{"P1Y", Year},
		{"P1Y2M3DT4H5M6S", Year + 2*Month + 3*Day + 4*time.Hour + 5*time.Minute + 6*time.Second},
		{"-PT15M", -15 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseISODuration(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseISODuration_Invalid(t *testing.T) {
	for _, input := range []string{"", "P", "PT", "1H", "PT1X", "PTH", "P1H", "PT1M2H"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseISODuration(input)
			assert.Error(t, err)
		})
	}
}

func TestVirtualClock_AdvanceIsAdditive(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a, err := ParseISODuration("P1M2DT3H")
	require.NoError(t, err)
	b, err := ParseISODuration("PT45M")
	require.NoError(t, err)

	stepwise := New(start)
	stepwise.Advance(a)
	stepwise.Advance(b)

	combined := New(start)
	combined.Advance(a + b)

	assert.Equal(t, combined.Now(), stepwise.Now())
}

func TestVirtualClock_OnlyMovesOnAdvance(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c := New(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start, c.Now())

	got, err := c.AdvanceISO("PT2H")
	require.NoError(t, err)
	assert.Equal(t, start.Add(2*time.Hour), got)
	assert.Equal(t, got, c.Now())
}
