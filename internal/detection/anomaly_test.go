package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreAnomaly_EmptyPopulation(t *testing.T) {
	sample := []float64{1, 2, 3}
	assert.Equal(t, 0.5, ScoreAnomaly(nil, sample))
	assert.Equal(t, 0.5, ScoreAnomaly([][]float64{}, sample))
}

func TestScoreAnomaly_OrderInvariant(t *testing.T) {
	population := [][]float64{
		{1, 10, 100},
		{2, 20, 200},
		{3, 30, 300},
		{4, 40, 400},
	}
	reversed := [][]float64{
		{4, 40, 400},
		{3, 30, 300},
		{2, 20, 200},
		{1, 10, 100},
	}
	sample := []float64{3.5, 5, 500}

	assert.Equal(t, ScoreAnomaly(population, sample), ScoreAnomaly(reversed, sample))
}

func TestScoreAnomaly_ConstantPopulationContributesZero(t *testing.T) {
	population := [][]float64{
		{5, 5},
		{5, 5},
		{5, 5},
	}

	// Every dimension has zero deviation, so even a wild sample scores 0.
	assert.Equal(t, 0.0, ScoreAnomaly(population, []float64{1e9, -1e9}))
}

func TestScoreAnomaly_Bounds(t *testing.T) {
	population := [][]float64{
		{0, 0},
		{1, 10},
		{2, 20},
	}

	tests := []struct {
		name   string
		sample []float64
	}{
		{"typical", []float64{1, 10}},
		{"extreme high", []float64{1e12, 1e12}},
		{"extreme low", []float64{-1e12, -1e12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := ScoreAnomaly(population, tt.sample)
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		})
	}
}

func TestScoreAnomaly_MeanSampleScoresLow(t *testing.T) {
	population := [][]float64{
		{0, 100},
		{2, 300},
		{4, 500},
	}

	// The population mean itself has zero deviation in every dimension.
	assert.Equal(t, 0.0, ScoreAnomaly(population, []float64{2, 300}))
}
