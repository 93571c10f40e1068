// Package subprocess provides a transcribe.Provider that shells out to an
// external transcription program such as a faster-whisper script or the
// whisper.cpp CLI.
//
// The program receives the path of a temporary WAV file. Every argument equal
// to "{audio}" is replaced with that path; without a placeholder the path is
// appended as the last argument. The program must report its transcript as
// JSON of the form
//
//	{"language": "en", "segments": [{"start": 0.0, "end": 1.5, "text": "...", "words": [...]}]}
//
// either on stdout or in a file next to the input named after its stem
// (audio.json).
package subprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrWong99/meetscribe/pkg/command"
	"github.com/MrWong99/meetscribe/pkg/provider/transcribe"
)

// AudioPlaceholder is replaced with the input file path in program arguments.
const AudioPlaceholder = "{audio}"

var _ transcribe.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithRunner overrides the process runner. Intended for tests.
func WithRunner(r command.Runner) Option {
	return func(p *Provider) { p.runner = r }
}

// WithTempDir sets the parent directory for per-call working directories.
// Defaults to os.TempDir.
func WithTempDir(dir string) Option {
	return func(p *Provider) { p.tempDir = dir }
}

// Provider runs an external program per transcription.
type Provider struct {
	program string
	args    []string
	runner  command.Runner
	tempDir string
}

// New creates a Provider running program with args.
func New(program string, args []string, opts ...Option) (*Provider, error) {
	if program == "" {
		return nil, errors.New("subprocess: program must not be empty")
	}
	p := &Provider{
		program: program,
		args:    append([]string(nil), args...),
		runner:  command.Exec{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe writes wav to a temporary directory, runs the program on it and
// parses its JSON report. The directory is removed afterwards.
func (p *Provider) Transcribe(ctx context.Context, wav []byte) (*transcribe.Result, error) {
	dir, err := os.MkdirTemp(p.tempDir, "meetscribe-secondary-")
	if err != nil {
		return nil, fmt.Errorf("subprocess: create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	audioPath := filepath.Join(dir, "audio.wav")
	if err := os.WriteFile(audioPath, wav, 0o600); err != nil {
		return nil, fmt.Errorf("subprocess: write audio: %w", err)
	}

	res, err := p.runner.Run(ctx, p.program, p.expandArgs(audioPath)...)
	if err != nil {
		stderr := strings.TrimSpace(res.Stderr)
		if len(stderr) > 512 {
			stderr = stderr[len(stderr)-512:]
		}
		return nil, fmt.Errorf("subprocess: %s exited with code %d: %s: %w", p.program, res.ExitCode, stderr, err)
	}

	if out, ok := decode([]byte(res.Stdout)); ok {
		return out, nil
	}
	sidecar := filepath.Join(dir, "audio.json")
	data, err := os.ReadFile(sidecar)
	if err != nil {
		return nil, fmt.Errorf("subprocess: no JSON transcript on stdout or in %s: %w", filepath.Base(sidecar), err)
	}
	out, ok := decode(data)
	if !ok {
		return nil, fmt.Errorf("subprocess: %s is not a transcript document", filepath.Base(sidecar))
	}
	return out, nil
}

func (p *Provider) expandArgs(audioPath string) []string {
	args := make([]string, 0, len(p.args)+1)
	replaced := false
	for _, a := range p.args {
		if a == AudioPlaceholder {
			a = audioPath
			replaced = true
		}
		args = append(args, a)
	}
	if !replaced {
		args = append(args, audioPath)
	}
	return args
}

// decode parses a transcript document. Programs commonly print progress lines
// before the JSON, so decoding starts at the first '{'.
func decode(data []byte) (*transcribe.Result, bool) {
	i := bytes.IndexByte(data, '{')
	if i < 0 {
		return nil, false
	}
	var res transcribe.Result
	if err := json.Unmarshal(bytes.TrimSpace(data[i:]), &res); err != nil {
		return nil, false
	}
	if res.Segments == nil {
		res.Segments = []transcribe.Segment{}
	}
	for i := range res.Segments {
		res.Segments[i].Text = strings.TrimSpace(res.Segments[i].Text)
	}
	return &res, true
}
