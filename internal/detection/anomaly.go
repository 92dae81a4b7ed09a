package detection

import "math"

// zScoreClip caps each dimension's contribution at three standard
// deviations before normalizing into [0,1].
const zScoreClip = 3.0

// ScoreAnomaly measures how statistically unusual sample is against the
// reference population. Each dimension's z-score against the population mean
// and standard deviation is clipped to 3 sigma, normalized by /3, and the
// normalized scores are averaged. The result is in [0,1].
//
// An empty population carries no information and scores a neutral 0.5. A
// constant dimension (zero deviation) contributes 0. The score depends only
// on the population's mean and variance, so row order never matters.
func ScoreAnomaly(population [][]float64, sample []float64) float64 {
	if len(population) == 0 || len(sample) == 0 {
		return 0.5
	}

	dims := len(sample)
	means := make([]float64, dims)
	for _, row := range population {
		for d := 0; d < dims && d < len(row); d++ {
			means[d] += row[d]
		}
	}
	n := float64(len(population))
	for d := range means {
		means[d] /= n
	}

	stddevs := make([]float64, dims)
	for _, row := range population {
		for d := 0; d < dims && d < len(row); d++ {
			diff := row[d] - means[d]
			stddevs[d] += diff * diff
		}
	}
	for d := range stddevs {
		stddevs[d] = math.Sqrt(stddevs[d] / n)
	}

	total := 0.0
	for d := 0; d < dims; d++ {
		if stddevs[d] == 0 {
			continue
		}
		z := math.Abs(sample[d]-means[d]) / stddevs[d]
		if z > zScoreClip {
			z = zScoreClip
		}
		total += z / zScoreClip
	}

	return total / float64(dims)
}
