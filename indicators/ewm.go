package indicators

import "fmt"

// EWM returns the exponentially weighted moving average of values for the
// given span, one output per input.
//
// Weights are normalised over the observations seen so far (alpha =
// 2/(span+1)), so early values are not biased towards zero and no seed
// average is needed.
func EWM(values []float64, span int) ([]float64, error) {
	if span <= 0 {
		return nil, fmt.Errorf("span must be positive, got %d", span)
	}

	alpha := 2.0 / float64(span+1)
	decay := 1 - alpha

	out := make([]float64, len(values))
	var num, den float64
	for i, v := range values {
		num = v + decay*num
		den = 1 + decay*den
		out[i] = num / den
	}
	return out, nil
}

// MA calculates the simple moving average of the last period values.
func MA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(values) < period {
		return 0, fmt.Errorf("not enough values: need %d, got %d", period, len(values))
	}

	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period), nil
}
