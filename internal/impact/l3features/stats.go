package l3features

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// flatTolerance scales the mean to decide that a channel has no variance.
// Floating point accumulation leaves a constant signal with a standard
// deviation around 1e-15 rather than exactly zero.
const flatTolerance = 1e-12

func isFlat(mean, std float64) bool {
	return std <= flatTolerance*math.Max(1, math.Abs(mean))
}

// sanitize maps NaN and ±Inf to zero.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// zeroCrossingRate counts sign changes of the mean-centred signal,
// normalised by len(x)-1.
func zeroCrossingRate(x []float64, mean float64) float64 {
	if len(x) < 2 {
		return 0
	}
	crossings := 0
	prev := x[0] - mean
	for _, v := range x[1:] {
		c := v - mean
		if (prev < 0 && c >= 0) || (prev >= 0 && c < 0) {
			crossings++
		}
		prev = c
	}
	return float64(crossings) / float64(len(x)-1)
}

// timeDomain writes mean through zcr for x into dst[0:9].
func timeDomain(dst, x []float64) (mean, std float64) {
	mean, std = stat.PopMeanStdDev(x, nil)
	minV, maxV := floats.Min(x), floats.Max(x)
	dst[0] = mean
	dst[1] = std
	dst[2] = minV
	dst[3] = maxV
	dst[4] = maxV - minV
	dst[5] = floats.Dot(x, x)
	if isFlat(mean, std) || len(x) < 2 {
		dst[1] = 0
		dst[6], dst[7], dst[8] = 0, 0, 0
		return mean, 0
	}
	dst[6] = stat.Skew(x, nil)
	dst[7] = stat.ExKurtosis(x, nil)
	dst[8] = zeroCrossingRate(x, mean)
	return mean, std
}

// jerkStats writes the first-difference statistics into dst[0:3]. scratch
// must have room for len(x)-1 values.
func jerkStats(dst, x, scratch []float64, samplingRate float64) {
	if len(x) < 2 {
		dst[0], dst[1], dst[2] = 0, 0, 0
		return
	}
	j := scratch[:len(x)-1]
	maxAbs := 0.0
	for i := range j {
		j[i] = (x[i+1] - x[i]) * samplingRate
		if a := math.Abs(j[i]); a > maxAbs {
			maxAbs = a
		}
	}
	mean, std := stat.PopMeanStdDev(j, nil)
	dst[0] = mean
	dst[1] = std
	dst[2] = maxAbs
}

// spectrum holds a reusable real FFT plan and its buffers.
type spectrum struct {
	fft   *fourier.FFT
	coeff []complex128
	rate  float64
}

func newSpectrum(n int, samplingRate float64) *spectrum {
	return &spectrum{
		fft:   fourier.NewFFT(n),
		coeff: make([]complex128, n/2+1),
		rate:  samplingRate,
	}
}

// summarise writes dominant frequency, dominant power, spectral energy and
// spectral entropy into dst[0:4]. The DC bin is excluded throughout and the
// power spectrum is |X_k|².
func (s *spectrum) summarise(dst, x []float64) {
	dst[0], dst[1], dst[2], dst[3] = 0, 0, 0, 0
	s.coeff = s.fft.Coefficients(s.coeff, x)

	total := 0.0
	dominant := 0
	peak := 0.0
	for k := 1; k < len(s.coeff); k++ {
		p := powerOf(s.coeff[k])
		total += p
		if p > peak {
			peak = p
			dominant = k
		}
	}
	if total <= 0 || dominant == 0 {
		return
	}

	entropy := 0.0
	for k := 1; k < len(s.coeff); k++ {
		q := powerOf(s.coeff[k]) / total
		if q > 0 {
			entropy -= q * math.Log(q)
		}
	}
	dst[0] = s.fft.Freq(dominant) * s.rate
	dst[1] = peak
	dst[2] = total
	dst[3] = entropy
}

func powerOf(c complex128) float64 {
	a := cmplx.Abs(c)
	return a * a
}

// correlation is Pearson's r, zero when either side has no variance.
func correlation(x, y []float64, xFlat, yFlat bool) float64 {
	if xFlat || yFlat || len(x) < 2 {
		return 0
	}
	return sanitize(stat.Correlation(x, y, nil))
}
