package sessions

import (
	"bytes"
	"strings"
)

var (
	magicOgg  = []byte("OggS")
	magicEBML = []byte{0x1a, 0x45, 0xdf, 0xa3}
	magicFtyp = []byte("ftyp")
	magicRIFF = []byte("RIFF")
	magicWAVE = []byte("WAVE")
	magicFLAC = []byte("fLaC")
	magicID3  = []byte("ID3")
)

// SniffExtension picks the storage extension for an uploaded audio
// fragment. The declared mime type wins; otherwise the leading bytes are
// inspected. Unknown data is stored as webm, the format browsers record.
func SniffExtension(mime string, data []byte) string {
	m := strings.ToLower(mime)
	switch {
	case strings.Contains(m, "ogg"):
		return "ogg"
	case strings.Contains(m, "webm"):
		return "webm"
	case strings.Contains(m, "m4a"), strings.Contains(m, "mp4"), strings.Contains(m, "aac"):
		return "m4a"
	case strings.Contains(m, "wav"):
		return "wav"
	case strings.Contains(m, "flac"):
		return "flac"
	case strings.Contains(m, "mp3"):
		return "mp3"
	}

	head := data[:min(len(data), 12)]
	switch {
	case bytes.HasPrefix(head, magicOgg):
		return "ogg"
	case bytes.HasPrefix(head, magicEBML):
		return "webm"
	case bytes.Contains(head, magicFtyp):
		return "m4a"
	case bytes.HasPrefix(head, magicRIFF) && bytes.Contains(head, magicWAVE):
		return "wav"
	case bytes.HasPrefix(head, magicFLAC):
		return "flac"
	case bytes.HasPrefix(head, magicID3), len(head) >= 2 && head[0] == 0xff && head[1]&0xe0 == 0xe0:
		return "mp3"
	}
	return "webm"
}
