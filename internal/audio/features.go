package audio

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// FeatureSetName identifies the layout produced by Extractor. Model assets
// record it so a model is never fed vectors it was not trained on.
const FeatureSetName = "gemaps-lite-v1"

const (
	frameSeconds = 0.025
	hopSeconds   = 0.010
	minFrames    = 10

	pitchMinHz      = 60.0
	pitchMaxHz      = 400.0
	voicingMinCorr  = 0.45
	voicingMinLevel = -50.0 // dBFS
	rolloffFraction = 0.85
	eps             = 1e-10
)

// low-level descriptors, one value per frame
var lldNames = []string{
	"loudness",
	"zcr",
	"f0_semitone",
	"hnr",
	"spectral_centroid",
	"spectral_rolloff",
	"spectral_flux",
	"slope_0_500",
	"slope_500_1500",
	"alpha_ratio",
	"hammarberg",
}

var functionalNames = []string{"mean", "stddev", "p20", "p50", "p80", "range_p20_p80"}

var clipNames = []string{
	"voiced_ratio",
	"loudness_peaks_per_sec",
	"mean_voiced_segment_sec",
	"jitter_local",
	"shimmer_local_db",
	"equivalent_sound_level",
}

// FeatureNames lists the vector layout in order.
func FeatureNames() []string {
	names := make([]string, 0, len(lldNames)*len(functionalNames)+len(clipNames))
	for _, l := range lldNames {
		for _, f := range functionalNames {
			names = append(names, l+"_"+f)
		}
	}
	return append(names, clipNames...)
}

// FeatureDim is len(FeatureNames()).
var FeatureDim = len(lldNames)*len(functionalNames) + len(clipNames)

// Extractor computes a fixed-length acoustic summary of a waveform. It holds no
// state and is safe for concurrent use.
type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

type frameLLD struct {
	loudness  float64
	zcr       float64
	voiced    bool
	f0        float64 // semitones re 27.5 Hz, voiced frames only
	period    float64 // seconds, voiced frames only
	hnr       float64
	rms       float64
	energy    float64
	centroid  float64
	rolloff   float64
	flux      float64
	slopeLow  float64
	slopeHigh float64
	alpha     float64
	hammar    float64
}

// Extract returns a FeatureDim-long vector. The same waveform always yields
// the same vector.
func (e *Extractor) Extract(w Waveform) ([]float64, error) {
	sr := w.SampleRate
	if sr <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", ErrExtraction, sr)
	}
	frameLen := int(math.Round(frameSeconds * float64(sr)))
	hop := int(math.Round(hopSeconds * float64(sr)))
	if frameLen < 2 || hop < 1 {
		return nil, fmt.Errorf("%w: sample rate %d too low", ErrExtraction, sr)
	}
	n := 0
	if len(w.Samples) >= frameLen {
		n = 1 + (len(w.Samples)-frameLen)/hop
	}
	if n < minFrames {
		return nil, fmt.Errorf("%w: audio too short (%d frames, need %d)", ErrExtraction, n, minFrames)
	}

	nfft := 1
	for nfft < frameLen {
		nfft <<= 1
	}
	fft := fourier.NewFFT(nfft)
	window := hann(frameLen)
	binHz := float64(sr) / float64(nfft)

	frames := make([]frameLLD, n)
	padded := make([]float64, nfft)
	var prevNorm []float64
	for i := 0; i < n; i++ {
		x := w.Samples[i*hop : i*hop+frameLen]
		f := &frames[i]

		f.energy = meanSquare(x)
		f.rms = math.Sqrt(f.energy)
		f.loudness = 10 * math.Log10(f.energy+eps)
		f.zcr = zeroCrossingRate(x)

		if corr, lag := autocorrPeak(x, sr); lag > 0 && corr >= voicingMinCorr && f.loudness > voicingMinLevel {
			f.voiced = true
			hz := float64(sr) / float64(lag)
			f.f0 = 12 * math.Log2(hz/27.5)
			f.period = 1 / hz
			c := math.Min(math.Max(corr, 1e-6), 1-1e-6)
			f.hnr = 10 * math.Log10(c/(1-c))
		}

		for j := range padded {
			padded[j] = 0
		}
		for j, v := range x {
			padded[j] = v * window[j]
		}
		coeffs := fft.Coefficients(nil, padded)
		mag := make([]float64, len(coeffs))
		for k, c := range coeffs {
			mag[k] = math.Hypot(real(c), imag(c))
		}

		f.centroid, f.rolloff = centroidRolloff(mag, binHz)
		norm := normalize(mag)
		if prevNorm != nil {
			var flux float64
			for k := range norm {
				d := norm[k] - prevNorm[k]
				flux += d * d
			}
			f.flux = flux
		}
		prevNorm = norm

		f.slopeLow = spectralSlope(mag, binHz, 0, 500)
		f.slopeHigh = spectralSlope(mag, binHz, 500, 1500)
		f.alpha = 10 * math.Log10((bandEnergy(mag, binHz, 50, 1000)+eps)/(bandEnergy(mag, binHz, 1000, 5000)+eps))
		f.hammar = 10 * math.Log10((bandPeak(mag, binHz, 0, 2000)+eps)/(bandPeak(mag, binHz, 2000, 5000)+eps))
	}

	series := make([][]float64, len(lldNames))
	for _, f := range frames {
		series[0] = append(series[0], f.loudness)
		series[1] = append(series[1], f.zcr)
		if f.voiced {
			series[2] = append(series[2], f.f0)
			series[3] = append(series[3], f.hnr)
		}
		series[4] = append(series[4], f.centroid)
		series[5] = append(series[5], f.rolloff)
		series[6] = append(series[6], f.flux)
		series[7] = append(series[7], f.slopeLow)
		series[8] = append(series[8], f.slopeHigh)
		series[9] = append(series[9], f.alpha)
		series[10] = append(series[10], f.hammar)
	}

	out := make([]float64, 0, FeatureDim)
	for _, s := range series {
		out = append(out, functionals(s)...)
	}
	out = append(out, clipLevel(frames, series[0], float64(len(w.Samples))/float64(sr))...)

	for i, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = 0
		}
	}
	return out, nil
}

func functionals(x []float64) []float64 {
	if len(x) == 0 {
		return make([]float64, len(functionalNames))
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	mean := stat.Mean(x, nil)
	std := math.Sqrt(stat.Moment(2, x, nil))
	p20 := stat.Quantile(0.2, stat.Empirical, sorted, nil)
	p50 := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	p80 := stat.Quantile(0.8, stat.Empirical, sorted, nil)
	return []float64{mean, std, p20, p50, p80, p80 - p20}
}

func clipLevel(frames []frameLLD, loudness []float64, seconds float64) []float64 {
	var (
		voiced      int
		segments    int
		segFrames   int
		run         int
		jitterSum   float64
		jitterPairs int
		periodSum   float64
		periods     int
		shimmerSum  float64
		energySum   float64
	)
	for i, f := range frames {
		energySum += f.energy
		if !f.voiced {
			if run > 0 {
				segments++
				segFrames += run
				run = 0
			}
			continue
		}
		voiced++
		run++
		periodSum += f.period
		periods++
		if i > 0 && frames[i-1].voiced {
			jitterSum += math.Abs(f.period - frames[i-1].period)
			shimmerSum += math.Abs(20 * math.Log10((f.rms+eps)/(frames[i-1].rms+eps)))
			jitterPairs++
		}
	}
	if run > 0 {
		segments++
		segFrames += run
	}

	mean := stat.Mean(loudness, nil)
	var peaks int
	for i := 1; i < len(loudness)-1; i++ {
		if loudness[i] > loudness[i-1] && loudness[i] >= loudness[i+1] && loudness[i] > mean {
			peaks++
		}
	}

	var meanSeg, jitter, shimmer float64
	if segments > 0 {
		meanSeg = float64(segFrames) / float64(segments) * hopSeconds
	}
	if jitterPairs > 0 && periods > 0 {
		jitter = (jitterSum / float64(jitterPairs)) / (periodSum / float64(periods))
		shimmer = shimmerSum / float64(jitterPairs)
	}
	var peakRate float64
	if seconds > 0 {
		peakRate = float64(peaks) / seconds
	}
	return []float64{
		float64(voiced) / float64(len(frames)),
		peakRate,
		meanSeg,
		jitter,
		shimmer,
		10 * math.Log10(energySum/float64(len(frames))+eps),
	}
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func meanSquare(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v * v
	}
	return s / float64(len(x))
}

func zeroCrossingRate(x []float64) float64 {
	var c int
	for i := 1; i < len(x); i++ {
		if (x[i-1] >= 0) != (x[i] >= 0) {
			c++
		}
	}
	return float64(c) / float64(len(x)-1)
}

// autocorrPeak returns the normalized autocorrelation and lag of the pitch
// period. The shortest lag within 3% of the global peak wins, which keeps
// period multiples from being picked (octave errors).
func autocorrPeak(x []float64, sr int) (float64, int) {
	minLag := int(float64(sr) / pitchMaxHz)
	maxLag := int(float64(sr) / pitchMinHz)
	if maxLag >= len(x)-1 {
		maxLag = len(x) - 2
	}
	if minLag < 1 || maxLag <= minLag {
		return 0, 0
	}
	r := make([]float64, maxLag+2)
	best := 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var num, e0, e1 float64
		for i := 0; i+lag < len(x); i++ {
			num += x[i] * x[i+lag]
			e0 += x[i] * x[i]
			e1 += x[i+lag] * x[i+lag]
		}
		den := math.Sqrt(e0 * e1)
		if den < eps {
			continue
		}
		r[lag] = num / den
		if r[lag] > best {
			best = r[lag]
		}
	}
	if best <= 0 {
		return 0, 0
	}
	for lag := minLag; lag <= maxLag; lag++ {
		if r[lag] >= 0.97*best && r[lag] >= r[lag-1] && r[lag] >= r[lag+1] {
			return r[lag], lag
		}
	}
	return 0, 0
}

func centroidRolloff(mag []float64, binHz float64) (float64, float64) {
	var total, weighted, power float64
	for k, m := range mag {
		total += m
		weighted += m * float64(k) * binHz
		power += m * m
	}
	if total < eps {
		return 0, 0
	}
	var cum float64
	rolloff := float64(len(mag)-1) * binHz
	for k, m := range mag {
		cum += m * m
		if cum >= rolloffFraction*power {
			rolloff = float64(k) * binHz
			break
		}
	}
	return weighted / total, rolloff
}

func normalize(mag []float64) []float64 {
	var sum float64
	for _, m := range mag {
		sum += m
	}
	out := make([]float64, len(mag))
	if sum < eps {
		return out
	}
	for k, m := range mag {
		out[k] = m / sum
	}
	return out
}

// spectralSlope fits dB magnitude against frequency within [lo, hi) Hz.
func spectralSlope(mag []float64, binHz, lo, hi float64) float64 {
	var xs, ys []float64
	for k, m := range mag {
		f := float64(k) * binHz
		if f < lo || f >= hi {
			continue
		}
		xs = append(xs, f)
		ys = append(ys, 20*math.Log10(m+eps))
	}
	if len(xs) < 2 {
		return 0
	}
	_, beta := stat.LinearRegression(xs, ys, nil, false)
	return beta
}

func bandEnergy(mag []float64, binHz, lo, hi float64) float64 {
	var e float64
	for k, m := range mag {
		if f := float64(k) * binHz; f >= lo && f < hi {
			e += m * m
		}
	}
	return e
}

func bandPeak(mag []float64, binHz, lo, hi float64) float64 {
	var p float64
	for k, m := range mag {
		if f := float64(k) * binHz; f >= lo && f < hi && m*m > p {
			p = m * m
		}
	}
	return p
}
