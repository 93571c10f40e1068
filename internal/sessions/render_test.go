package sessions

import (
	"testing"
	"time"

	"github.com/MrWong99/meetscribe/pkg/session"
)

func word(text string, start, end float64, speaker int) session.Word {
	return session.Word{
		Text:       text,
		Start:      time.Duration(start * float64(time.Second)),
		End:        time.Duration(end * float64(time.Second)),
		SpeakerTag: speaker,
	}
}

func TestRenderSpeakerTurns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		words  []session.Word
		want   string
		wantOK bool
	}{
		{"empty", nil, "", false},
		{"single speaker", []session.Word{word("a", 0, 1, 1), word("b", 1, 2, 1)}, "", false},
		{"low coverage", []session.Word{word("a", 0, 1, 1), word("b", 1, 2, 0), word("c", 2, 3, 0), word("d", 3, 4, 2)}, "", false},
		{
			"alternating",
			[]session.Word{word("hi", 0, 1, 1), word("yo", 1, 2, 2), word("ok", 2, 3, 2), word("bye", 3, 4, 1)},
			"[00:00-00:01] SPEAKER_1: hi\n[00:01-00:03] SPEAKER_2: yo ok\n[00:03-00:04] SPEAKER_1: bye",
			true,
		},
		{
			"untagged words skipped",
			[]session.Word{word("a", 0, 1, 1), word("um", 1, 2, 0), word("b", 2, 3, 2)},
			"[00:00-00:01] SPEAKER_1: a\n[00:02-00:03] SPEAKER_2: b",
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := RenderSpeakerTurns(tt.words)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("RenderSpeakerTurns = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSniffExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mime string
		data []byte
		want string
	}{
		{"audio/ogg; codecs=opus", nil, "ogg"},
		{"audio/webm", nil, "webm"},
		{"audio/x-m4a", nil, "m4a"},
		{"audio/mp4", nil, "m4a"},
		{"audio/wav", nil, "wav"},
		{"", []byte("OggS\x00\x02"), "ogg"},
		{"", []byte{0x1a, 0x45, 0xdf, 0xa3}, "webm"},
		{"", []byte("\x00\x00\x00\x20ftypM4A "), "m4a"},
		{"", []byte("RIFF\x24\x00\x00\x00WAVE"), "wav"},
		{"", []byte("fLaC"), "flac"},
		{"audio/mpeg", []byte("ID3\x04"), "mp3"},
		{"application/octet-stream", []byte("????"), "webm"},
		{"", nil, "webm"},
	}
	for _, tt := range tests {
		if got := SniffExtension(tt.mime, tt.data); got != tt.want {
			t.Errorf("SniffExtension(%q, %q) = %q, want %q", tt.mime, tt.data, got, tt.want)
		}
	}
}
