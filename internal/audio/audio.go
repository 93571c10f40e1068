// Package audio assembles a session's recorded audio into canonical 16 kHz
// mono 16-bit PCM WAV.
//
// Sessions are recorded either as sequence-numbered fragments under
// audio/{org}/{session}/ or as a single combined blob. Fragments are
// concatenated with the ffmpeg concat demuxer in lexical (= sequence) order;
// a combined blob is transcoded directly. Both paths run ffmpeg with fixed
// arguments, so assembling the same inputs twice yields identical bytes.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/pkg/command"
	"github.com/MrWong99/meetscribe/pkg/objstore"
	"github.com/MrWong99/meetscribe/pkg/session"
)

// Canonical audio format.
const (
	SampleRate     = 16000
	Channels       = 1
	BytesPerSecond = SampleRate * Channels * 2
)

// Assembly stages reported in [StageError].
const (
	StageList      = "list"
	StageDownload  = "download"
	StageConcat    = "concat"
	StageTranscode = "transcode"
)

// outputArgs are appended to every ffmpeg invocation.
var outputArgs = []string{"-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le"}

// Canonical is the assembled audio of one session.
type Canonical struct {
	WAV []byte

	// Chunked is true when the audio was built from fragments.
	Chunked bool

	// ChunkCount is the number of fragments concatenated; zero for a combined
	// blob.
	ChunkCount int
}

// Duration approximates the audio length from the PCM byte rate.
func (c *Canonical) Duration() time.Duration {
	return time.Duration(float64(len(c.WAV)) / BytesPerSecond * float64(time.Second))
}

// ProgressRecorder receives the number of fragments downloaded so far.
type ProgressRecorder interface {
	SetProcessedParts(ctx context.Context, id uuid.UUID, n int) error
}

// Assembler builds canonical audio from object storage.
type Assembler struct {
	store      objstore.Store
	runner     command.Runner
	progress   ProgressRecorder
	ffmpegPath string
	tempDir    string
	metrics    *observe.Metrics
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithRunner sets the subprocess runner. Default: [command.Exec].
func WithRunner(r command.Runner) Option {
	return func(a *Assembler) { a.runner = r }
}

// WithFFmpegPath sets the ffmpeg executable. Default: "ffmpeg".
func WithFFmpegPath(path string) Option {
	return func(a *Assembler) { a.ffmpegPath = path }
}

// WithTempDir sets the parent of the per-assembly working directory.
// Default: [os.TempDir].
func WithTempDir(dir string) Option {
	return func(a *Assembler) { a.tempDir = dir }
}

// WithProgress reports fragment download progress to p.
func WithProgress(p ProgressRecorder) Option {
	return func(a *Assembler) { a.progress = p }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assembler) { a.metrics = m }
}

// New creates an Assembler reading from store.
func New(store objstore.Store, opts ...Option) *Assembler {
	a := &Assembler{
		store:      store,
		runner:     command.Exec{},
		ffmpegPath: "ffmpeg",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Assemble produces the canonical audio of session id. It returns an
// [*AudioNotFoundError] when the session has no audio at all and a
// [*StageError] when a download or ffmpeg run fails. The working directory is
// always removed.
func (a *Assembler) Assemble(ctx context.Context, org, id uuid.UUID) (c *Canonical, err error) {
	start := time.Now()
	defer func() { a.metrics.RecordStage(ctx, observe.StageAssemble, start, err) }()

	names, err := a.fragments(ctx, org, id)
	if err != nil {
		return nil, err
	}

	work, err := os.MkdirTemp(a.tempDir, "meetscribe-audio-*")
	if err != nil {
		return nil, fmt.Errorf("audio: create work dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(work); rmErr != nil {
			slog.Warn("audio: failed to remove work dir", "dir", work, "err", rmErr)
		}
	}()

	if len(names) > 0 {
		return a.concat(ctx, work, org, id, names)
	}
	return a.transcodeCombined(ctx, work, org, id)
}

// fragments lists the session's fragment names in sequence order.
func (a *Assembler) fragments(ctx context.Context, org, id uuid.UUID) ([]string, error) {
	all, err := a.store.List(ctx, session.FragmentPrefix(org, id))
	if err != nil {
		return nil, &StageError{Stage: StageList, Err: err}
	}
	names := make([]string, 0, len(all))
	for _, n := range all {
		if session.IsFragmentName(n) {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names, nil
}

func (a *Assembler) concat(ctx context.Context, work string, org, id uuid.UUID, names []string) (*Canonical, error) {
	prefix := session.FragmentPrefix(org, id)
	var list strings.Builder
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, &StageError{Stage: StageDownload, Err: err}
		}
		data, err := a.store.Get(ctx, prefix+name)
		if err != nil {
			return nil, &StageError{Stage: StageDownload, Err: fmt.Errorf("fragment %s: %w", name, err)}
		}
		local := filepath.Join(work, name)
		if err := os.WriteFile(local, data, 0o600); err != nil {
			return nil, &StageError{Stage: StageDownload, Err: err}
		}
		fmt.Fprintf(&list, "file '%s'\n", escapeConcatPath(local))
		a.reportProgress(ctx, id, i+1)
	}

	listPath := filepath.Join(work, "list.txt")
	if err := os.WriteFile(listPath, []byte(list.String()), 0o600); err != nil {
		return nil, &StageError{Stage: StageConcat, Err: err}
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-f", "concat", "-safe", "0", "-i", listPath}
	wav, err := a.ffmpeg(ctx, StageConcat, work, args)
	if err != nil {
		return nil, err
	}
	slog.Debug("audio: fragments assembled", "session_id", id, "fragments", len(names), "bytes", len(wav))
	return &Canonical{WAV: wav, Chunked: true, ChunkCount: len(names)}, nil
}

func (a *Assembler) transcodeCombined(ctx context.Context, work string, org, id uuid.UUID) (*Canonical, error) {
	for _, ext := range session.CombinedExtensions {
		data, err := a.store.Get(ctx, session.CombinedAudioPath(org, id, ext))
		if errors.Is(err, objstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, &StageError{Stage: StageDownload, Err: err}
		}

		in := filepath.Join(work, "in."+ext)
		if err := os.WriteFile(in, data, 0o600); err != nil {
			return nil, &StageError{Stage: StageDownload, Err: err}
		}
		args := []string{"-hide_banner", "-loglevel", "error", "-i", in}
		wav, err := a.ffmpeg(ctx, StageTranscode, work, args)
		if err != nil {
			return nil, err
		}
		slog.Debug("audio: combined audio transcoded", "session_id", id, "ext", ext, "bytes", len(wav))
		return &Canonical{WAV: wav}, nil
	}
	return nil, &AudioNotFoundError{OrganizationID: org, SessionID: id}
}

// ffmpeg runs ffmpeg with the canonical output arguments and returns the
// produced WAV.
func (a *Assembler) ffmpeg(ctx context.Context, stage, work string, args []string) ([]byte, error) {
	out := filepath.Join(work, "out.wav")
	args = append(append(args, outputArgs...), out)

	res, err := a.runner.Run(ctx, a.ffmpegPath, args...)
	if err != nil {
		return nil, &StageError{
			Stage:    stage,
			Command:  a.ffmpegPath + " " + strings.Join(args, " "),
			ExitCode: res.ExitCode,
			Stderr:   strings.TrimSpace(res.Stderr),
			Err:      err,
		}
	}
	wav, err := os.ReadFile(out)
	if err != nil {
		return nil, &StageError{
			Stage:   stage,
			Command: a.ffmpegPath,
			Err:     fmt.Errorf("ffmpeg completed but output is missing: %w", err),
		}
	}
	return wav, nil
}

func (a *Assembler) reportProgress(ctx context.Context, id uuid.UUID, n int) {
	if a.progress == nil {
		return
	}
	if err := a.progress.SetProcessedParts(ctx, id, n); err != nil {
		slog.Warn("audio: failed to record progress", "session_id", id, "parts", n, "err", err)
	}
}

// escapeConcatPath quotes a path for a single-quoted concat list entry.
func escapeConcatPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}
