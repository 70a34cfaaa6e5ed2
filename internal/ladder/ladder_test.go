package ladder

import (
	"testing"

	"ladder_bot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeLevels(t *testing.T) {
	levels, err := ComputeLevels(100, 0.05, 3)
	require.NoError(t, err)
	require.Len(t, levels, 3)

	assert.Equal(t, 1, levels[0].Rung)
	assert.Equal(t, 95.00, levels[0].Price)
	assert.Equal(t, 2, levels[1].Rung)
	assert.Equal(t, 90.00, levels[1].Price)
	assert.Equal(t, 3, levels[2].Rung)
	assert.Equal(t, 85.00, levels[2].Price)
}

func TestComputeLevelsRounding(t *testing.T) {
	levels, err := ComputeLevels(123.456, 0.03, 2)
	require.NoError(t, err)

	// 123.456 * 0.97 = 119.75232 → 119.75
	assert.Equal(t, 119.75, levels[0].Price)
	// 123.456 * 0.94 = 116.04864 → 116.05
	assert.Equal(t, 116.05, levels[1].Price)
}

func TestComputeLevelsDeterministic(t *testing.T) {
	a, err := ComputeLevels(250.33, 0.07, 10)
	require.NoError(t, err)
	b, err := ComputeLevels(250.33, 0.07, 10)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestComputeLevelsInvalidInput(t *testing.T) {
	cases := []struct {
		name     string
		entry    float64
		drawdown float64
		count    int
	}{
		{"入场价为零", 0, 0.05, 3},
		{"入场价为负", -10, 0.05, 3},
		{"回撤为零", 100, 0, 3},
		{"回撤为一", 100, 1, 3},
		{"回撤超界", 100, 1.5, 3},
		{"档位数为零", 100, 0.05, 0},
		{"档位数为负", 100, 0.05, -2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			levels, err := ComputeLevels(tc.entry, tc.drawdown, tc.count)
			require.Error(t, err)
			assert.Nil(t, levels)
			assert.Equal(t, domain.FaultInvalidInput, domain.KindOf(err))
		})
	}
}
