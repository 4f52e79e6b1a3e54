package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewardsProgram_PointsFor(t *testing.T) {
	tests := []struct {
		name    string
		program *RewardsProgram
		total   int64
		want    int64
	}{
		{"nil program", nil, 10000, 0},
		{"disabled", &RewardsProgram{Enabled: false, PointsPerOrder: 10}, 10000, 0},
		{"below threshold", &RewardsProgram{Enabled: true, MinPurchaseCents: 5000, PointsPerOrder: 10}, 4999, 0},
		{"exactly threshold", &RewardsProgram{Enabled: true, MinPurchaseCents: 5000, PointsPerOrder: 10}, 5000, 10},
		{"flat plus per unit", &RewardsProgram{Enabled: true, MinPurchaseCents: 1000, PointsPerOrder: 5, PointsPerUnit: 1, UnitCents: 100}, 2550, 30},
		{"per unit only", &RewardsProgram{Enabled: true, PointsPerUnit: 2, UnitCents: 1000}, 3500, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.program.PointsFor(tt.total))
		})
	}
}

func TestRewardsProgram_Validate(t *testing.T) {
	assert.NoError(t, (&RewardsProgram{Enabled: true, PointsPerOrder: 1}).Validate())
	assert.NoError(t, (&RewardsProgram{Enabled: false}).Validate())

	invalid := []*RewardsProgram{
		{MinPurchaseCents: -1},
		{PointsPerOrder: -1},
		{PointsPerUnit: 1, UnitCents: 0},
		{Enabled: true},
	}
	for _, p := range invalid {
		err := p.Validate()
		require.Error(t, err)
		assert.Equal(t, ErrCodeInvalidRewardsProgram, errCode(t, err))
	}
}

func TestCanRedeem(t *testing.T) {
	assert.NoError(t, CanRedeem(100, 100))

	err := CanRedeem(99, 100)
	require.Error(t, err)
	assert.Equal(t, ErrCodeInsufficientPoints, errCode(t, err))

	err = CanRedeem(100, 0)
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidRequest, errCode(t, err))
}

func TestReward_Available(t *testing.T) {
	zero, two := 0, 2
	assert.True(t, (&Reward{IsActive: true}).Available())
	assert.True(t, (&Reward{IsActive: true, Stock: &two}).Available())
	assert.False(t, (&Reward{IsActive: true, Stock: &zero}).Available())
	assert.False(t, (&Reward{IsActive: false}).Available())
}
