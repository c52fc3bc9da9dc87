package indicators

import "math"

// SMA calculates the simple moving average for the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// RollingSMA returns the moving average at every index. Indexes with fewer
// than period values before them are NaN.
func RollingSMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if period <= 0 || i < period-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(period)
	}
	return out
}

// At returns series[i], with negative i counting from the end. ok is false
// when i is out of range or the value is NaN.
func At(series []float64, i int) (float64, bool) {
	if i < 0 {
		i += len(series)
	}
	if i < 0 || i >= len(series) || math.IsNaN(series[i]) {
		return 0, false
	}
	return series[i], true
}

// DistancePct is |price-ref|/ref in percent.
func DistancePct(price, ref float64) float64 {
	return math.Abs((price-ref)/ref) * 100
}
