package capture

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// Deinterleave splits interleaved samples into per-channel slices.
func Deinterleave(samples []int16, channels int) [][]int16 {
	if channels <= 1 {
		return [][]int16{samples}
	}
	n := len(samples) / channels
	out := make([][]int16, channels)
	for ch := range out {
		out[ch] = make([]int16, n)
	}
	for i := 0; i < n; i++ {
		for ch := 0; ch < channels; ch++ {
			out[ch][i] = samples[i*channels+ch]
		}
	}
	return out
}

// RMS returns the normalized root mean square level of samples in 0..1.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return sum / float64(len(samples)) / (32767 * 32767)
}
