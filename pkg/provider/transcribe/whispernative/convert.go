package whispernative

import "encoding/binary"

const fullScale = 1 << 15

// monoSamples turns interleaved s16le PCM into the mono float32 samples
// whisper.cpp expects, averaging the channels of each frame. Incomplete
// trailing frames are dropped.
func monoSamples(pcm []byte, channels int) []float32 {
	channels = max(channels, 1)
	frame := 2 * channels
	out := make([]float32, len(pcm)/frame)
	for i := range out {
		var sum int32
		for off := i * frame; off < (i+1)*frame; off += 2 {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		out[i] = float32(sum) / float32(channels*fullScale)
	}
	return out
}
