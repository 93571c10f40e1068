package transcribe

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const bitsPerSample = 16

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// PCM describes decoded WAV audio.
type PCM struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// DecodeWAV extracts 16-bit PCM samples from a RIFF/WAV container. Chunks
// other than "fmt " and "data" are skipped, so ffmpeg's LIST metadata chunk
// is tolerated.
func DecodeWAV(wav []byte) (*PCM, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, errors.New("transcribe: not a RIFF/WAVE file")
	}

	var (
		out    PCM
		hasFmt bool
	)
	for off := 12; off+8 <= len(wav); {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(wav) {
			// ffmpeg writes a placeholder size when streaming to a pipe.
			end = len(wav)
		}
		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, errors.New("transcribe: short fmt chunk")
			}
			if format := binary.LittleEndian.Uint16(wav[body : body+2]); format != 1 {
				return nil, fmt.Errorf("transcribe: unsupported WAV format %d", format)
			}
			out.Channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			out.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			if bits := binary.LittleEndian.Uint16(wav[body+14 : body+16]); bits != bitsPerSample {
				return nil, fmt.Errorf("transcribe: unsupported bit depth %d", bits)
			}
			hasFmt = true
		case "data":
			if !hasFmt {
				return nil, errors.New("transcribe: data chunk before fmt chunk")
			}
			out.Data = wav[body:end]
			return &out, nil
		}
		// Chunks are padded to an even size.
		off = end + size%2
	}
	return nil, errors.New("transcribe: no data chunk")
}
