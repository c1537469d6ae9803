package sensor

import "sort"

const (
	// EffectiveSampleRate is the FIFO output rate after on-chip averaging (100 sps / 4).
	EffectiveSampleRate = 25
	// AnalysisWindow is the number of samples each estimate is computed over.
	AnalysisWindow = 100

	minPeakDistance = 4
	maxPeaks        = 15
)

// Estimate is the result of analysing one window of raw samples.
type Estimate struct {
	BPM       float64
	BPMValid  bool
	SpO2      float64
	SpO2Valid bool
}

// EstimateVitals derives heart rate from the spacing of pulse peaks in the IR
// channel and SpO2 from the red/IR ratio of ratios. ir and red must be the
// same length; windows shorter than two pulses yield invalid results.
func EstimateVitals(ir, red []int) Estimate {
	var est Estimate
	n := len(ir)
	if n == 0 || len(red) != n {
		return est
	}

	irMean := mean(ir)

	// Remove DC and invert so that pulses appear as positive peaks.
	x := make([]float64, n)
	for i, v := range ir {
		x[i] = irMean - float64(v)
	}
	// 4-point moving average
	for i := 0; i < n-3; i++ {
		x[i] = (x[i] + x[i+1] + x[i+2] + x[i+3]) / 4
	}
	x = x[:max(n-3, 0)]

	threshold := 0.0
	for _, v := range x {
		threshold += v
	}
	if len(x) > 0 {
		threshold /= float64(len(x))
	}
	threshold = clamp(threshold, 30, 60)

	peaks := findPeaks(x, threshold, minPeakDistance, maxPeaks)
	if len(peaks) >= 2 {
		interval := float64(peaks[len(peaks)-1]-peaks[0]) / float64(len(peaks)-1)
		if interval > 0 {
			est.BPM = float64(EffectiveSampleRate*60) / interval
			est.BPMValid = true
		}
	}

	r, ok := ratioOfRatios(ir, red)
	if ok && r > 0.02 && r < 1.84 {
		est.SpO2 = -45.060*r*r + 30.354*r + 94.845
		est.SpO2Valid = true
	}
	return est
}

// findPeaks returns indices of local maxima above threshold, at least
// minDistance apart, keeping the tallest when there are more than maxCount.
func findPeaks(x []float64, threshold float64, minDistance, maxCount int) []int {
	var candidates []int
	for i := 1; i < len(x)-1; i++ {
		if x[i] > threshold && x[i] > x[i-1] {
			// flat tops count once, at their left edge
			j := i
			for j+1 < len(x) && x[j+1] == x[i] {
				j++
			}
			if j+1 < len(x) && x[j+1] < x[i] {
				candidates = append(candidates, i)
			}
			i = j
		}
	}

	// tallest first, then drop anything too close to a taller peak
	sort.SliceStable(candidates, func(a, b int) bool { return x[candidates[a]] > x[candidates[b]] })
	var kept []int
	for _, c := range candidates {
		tooClose := false
		for _, k := range kept {
			if abs(c-k) < minDistance {
				tooClose = true
				break
			}
		}
		if !tooClose {
			kept = append(kept, c)
		}
		if len(kept) == maxCount {
			break
		}
	}
	sort.Ints(kept)
	return kept
}

func ratioOfRatios(ir, red []int) (float64, bool) {
	irMin, irMax := minMax(ir)
	redMin, redMax := minMax(red)
	irDC, redDC := mean(ir), mean(red)
	irAC := float64(irMax - irMin)
	redAC := float64(redMax - redMin)
	if irAC == 0 || irDC == 0 || redDC == 0 {
		return 0, false
	}
	return (redAC / redDC) / (irAC / irDC), true
}

func mean(v []int) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0
	for _, x := range v {
		sum += x
	}
	return float64(sum) / float64(len(v))
}

func minMax(v []int) (int, int) {
	if len(v) == 0 {
		return 0, 0
	}
	lo, hi := v[0], v[0]
	for _, x := range v[1:] {
		lo = min(lo, x)
		hi = max(hi, x)
	}
	return lo, hi
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
