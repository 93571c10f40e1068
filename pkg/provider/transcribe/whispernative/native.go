// Package whispernative provides a transcribe.Provider backed by the
// whisper.cpp CGO bindings.
//
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h) must
// be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
package whispernative

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/meetscribe/pkg/provider/transcribe"
)

const (
	defaultLanguage    = "en"
	requiredSampleRate = 16000
)

// Compile-time assertion that Provider satisfies transcribe.Provider.
var _ transcribe.Provider = (*Provider)(nil)

// Provider implements transcribe.Provider in-process. The model is loaded
// once and shared. Each call creates its own whisper context, so concurrent
// calls do not interfere.
type Provider struct {
	model    whisperlib.Model
	language string
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code for transcription (e.g., "en", "de").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// New loads the whisper.cpp model at modelPath. The caller must call Close
// when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whispernative: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispernative: load model %q: %w", modelPath, err)
	}
	p := &Provider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe decodes wav, which must be 16 kHz, and runs inference on it.
// Cancellation is only observed before inference starts.
func (p *Provider) Transcribe(ctx context.Context, wav []byte) (*transcribe.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whispernative: %w", err)
	}
	audio, err := transcribe.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("whispernative: %w", err)
	}
	if audio.SampleRate != requiredSampleRate {
		return nil, fmt.Errorf("whispernative: sample rate %d Hz, want %d", audio.SampleRate, requiredSampleRate)
	}
	samples := monoSamples(audio.Data, audio.Channels)

	// Contexts are not thread-safe, but the model can be shared.
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whispernative: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whispernative: failed to set language, using default", "language", p.language, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whispernative: process audio: %w", err)
	}

	res := &transcribe.Result{Language: p.language, Segments: []transcribe.Segment{}}
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whispernative: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		res.Segments = append(res.Segments, transcribe.Segment{
			Start: segment.Start.Seconds(),
			End:   segment.End.Seconds(),
			Text:  text,
		})
	}
	return res, nil
}
