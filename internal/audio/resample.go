package audio

import "math"

// zero crossings of the sinc kernel kept on each side
const sincHalfWidth = 16

// resample converts between rates with a Hann-windowed sinc interpolator.
// When downsampling the kernel is widened so it also acts as the anti-alias filter.
func resample(in []float64, from, to int) []float64 {
	if from == to || len(in) == 0 {
		return in
	}
	ratio := float64(to) / float64(from)
	outLen := int(math.Floor(float64(len(in)) * ratio))
	out := make([]float64, outLen)

	cutoff := math.Min(1, ratio)
	radius := math.Ceil(sincHalfWidth / cutoff)
	r := int(radius)

	for i := range out {
		t := float64(i) / ratio
		center := int(math.Floor(t))
		var sum float64
		for j := center - r + 1; j <= center+r; j++ {
			if j < 0 || j >= len(in) {
				continue
			}
			x := t - float64(j)
			if math.Abs(x) >= radius {
				continue
			}
			window := 0.5 * (1 + math.Cos(math.Pi*x/radius))
			sum += in[j] * cutoff * sinc(cutoff*x) * window
		}
		out[i] = sum
	}
	return out
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}
