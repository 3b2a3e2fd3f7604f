package resampler

// Linear-interpolation sample-rate conversion between the telephony rates
// (8/16 kHz) and the model's fixed 24 kHz PCM domain.
//
// There is deliberately no low-pass/anti-aliasing stage here: filtering
// was tried and introduced audible artifacts on this pipeline's short
// 10 ms frames, while plain interpolation stayed clean. Keep it that way
// unless the whole audio path is re-validated by ear.

const (
	// headroomGain is applied before clamping so interpolation overshoot
	// does not hard-clip at the int16 boundaries.
	headroomGain = 0.9

	maxSample = 32767
	minSample = -32768
)

// Resample converts mono 16-bit PCM from inRate to outRate. It is pure
// and stateless: the same input always yields the same output, so it can
// be exercised with literal sample arrays.
func Resample(pcm []int16, inRate, outRate int) []int16 {
	if len(pcm) == 0 || inRate <= 0 || outRate <= 0 {
		return nil
	}
	if inRate == outRate {
		out := make([]int16, len(pcm))
		copy(out, pcm)
		return out
	}

	outLen := len(pcm) * outRate / inRate
	if outLen == 0 {
		return nil
	}
	out := make([]int16, outLen)

	ratio := float64(inRate) / float64(outRate)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := sampleAt(pcm, srcIdx)
		s1 := sampleAt(pcm, srcIdx+1)

		interp := float64(s0) + frac*(float64(s1)-float64(s0))
		out[i] = clamp(interp * headroomGain)
	}

	return out
}

// sampleAt clamps reads past the end to the last sample, so interpolating
// at the buffer edge never reads out of range.
func sampleAt(pcm []int16, idx int) int16 {
	if idx >= len(pcm) {
		idx = len(pcm) - 1
	}
	return pcm[idx]
}

func clamp(v float64) int16 {
	if v > maxSample {
		return maxSample
	}
	if v < minSample {
		return minSample
	}
	return int16(v)
}
