package signal

import "math"

// RSI is the relative strength index of the last period price changes,
// using simple averages of gains and losses. ok is false until there are
// period+1 prices, or when the window is completely flat.
func RSI(closes []float64, period int) (value float64, ok bool) {
	if period < 1 || len(closes) < period+1 {
		return 0, false
	}

	var gain, loss float64
	window := closes[len(closes)-period-1:]
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	gain /= float64(period)
	loss /= float64(period)

	switch {
	case gain == 0 && loss == 0:
		return 0, false
	case loss == 0:
		return 100, true
	}
	rs := gain / loss
	return 100 - 100/(1+rs), true
}

// EMA returns the exponential moving average series of values with
// smoothing 2/(span+1), seeded with the first value.
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2 / (float64(span) + 1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// MACD returns the latest MACD line, signal line and histogram. ok is false
// until there are at least slow prices.
func MACD(closes []float64, fast, slow, signal int) (line, sig, hist float64, ok bool) {
	if len(closes) < slow || fast >= slow {
		return 0, 0, 0, false
	}
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)

	lines := make([]float64, len(closes))
	for i := range closes {
		lines[i] = fastEMA[i] - slowEMA[i]
	}
	signals := EMA(lines, signal)

	n := len(closes) - 1
	line, sig = lines[n], signals[n]
	if math.IsNaN(line) || math.IsNaN(sig) {
		return 0, 0, 0, false
	}
	return line, sig, line - sig, true
}
