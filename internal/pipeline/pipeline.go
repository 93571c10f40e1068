// Package pipeline connects audio assembly to transcription for sessions
// owned by the scheduler.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/meetscribe/internal/audio"
	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/internal/scheduler"
	"github.com/MrWong99/meetscribe/internal/transcription"
	"github.com/MrWong99/meetscribe/pkg/session"
)

// Assembler produces canonical audio for a session.
type Assembler interface {
	Assemble(ctx context.Context, org, id uuid.UUID) (*audio.Canonical, error)
}

// Transcriber submits canonical audio and follows up on pending operations.
type Transcriber interface {
	Transcribe(ctx context.Context, sess *session.Session, c *audio.Canonical) (transcription.Outcome, error)
	Poll(ctx context.Context, sess *session.Session) (bool, error)
	Fail(ctx context.Context, sess *session.Session, err error) error
}

var _ scheduler.Processor = (*Pipeline)(nil)

// Pipeline implements [scheduler.Processor].
type Pipeline struct {
	assembler   Assembler
	transcriber Transcriber
	metrics     *observe.Metrics
}

// New creates a Pipeline. A nil m uses [observe.DefaultMetrics].
func New(a Assembler, t Transcriber, m *observe.Metrics) *Pipeline {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Pipeline{assembler: a, transcriber: t, metrics: m}
}

// Process assembles the session audio and hands it to the transcriber.
// Missing audio and assembly failures are terminal for the session.
func (p *Pipeline) Process(ctx context.Context, sess *session.Session) (err error) {
	ctx, span, log := observe.StartSessionSpan(ctx, "pipeline.process", sess.ID, sess.OrganizationID)
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	c, err := p.assembler.Assemble(ctx, sess.OrganizationID, sess.ID)
	p.metrics.RecordStage(ctx, observe.StageAssemble, start, err)
	if err != nil {
		var notFound *audio.AudioNotFoundError
		if errors.As(err, &notFound) {
			log.Warn("pipeline: no audio for session")
		}
		return p.transcriber.Fail(ctx, sess, fmt.Errorf("pipeline: assemble: %w", err))
	}
	log.Info("pipeline: audio assembled", "chunked", c.Chunked, "chunks", c.ChunkCount, "duration", c.Duration())

	out, err := p.transcriber.Transcribe(ctx, sess, c)
	if err != nil {
		return err
	}
	log.Debug("pipeline: transcription handed off", "outcome", out)
	return nil
}

// Recover polls the session's pending recognition operation.
func (p *Pipeline) Recover(ctx context.Context, sess *session.Session) (err error) {
	ctx, span, log := observe.StartSessionSpan(ctx, "pipeline.recover", sess.ID, sess.OrganizationID)
	defer func() { observe.EndSpan(span, err) }()

	done, err := p.transcriber.Poll(ctx, sess)
	if err != nil {
		return err
	}
	if !done {
		log.Debug("pipeline: operation still running", "operation", sess.OperationName)
	}
	return nil
}
