package surface

import (
	"fmt"

	"shroud/internal/noise"
)

const (
	audioNoiseAmplitude = 1e-5
	audioNoisePeriod    = 1024
)

// AudioBuffer holds decoded PCM samples per channel.
type AudioBuffer struct {
	SampleRate int
	Channels   [][]float32
}

// ChannelData returns a noised copy of channel ch. The buffer is not
// modified, and repeated reads in one session return identical samples.
func (a *Adapter) ChannelData(buf *AudioBuffer, ch int) ([]float32, error) {
	if buf == nil || ch < 0 || ch >= len(buf.Channels) {
		return nil, fmt.Errorf("audio channel %d out of range", ch)
	}
	src := buf.Channels[ch]
	out := make([]float32, len(src))
	copy(out, src)

	seed := noise.AudioSeed(a.Snapshot().Seed, ch)
	idx := 0
	for i := range out {
		if idx >= audioNoisePeriod {
			idx = 0
		}
		out[i] += float32(noise.Hash(seed, i, idx, ch) * audioNoiseAmplitude)
		idx++
	}
	return out, nil
}
