// Package sessions implements the inbound session operations: creating a
// session, appending recorded audio fragments or live transcript text,
// handing the session to the pipeline, and reading its status, transcript
// and summary.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/meetscribe/internal/events"
	"github.com/MrWong99/meetscribe/internal/liveappend"
	"github.com/MrWong99/meetscribe/internal/summary"
	"github.com/MrWong99/meetscribe/pkg/objstore"
	"github.com/MrWong99/meetscribe/pkg/provider/recognizer"
	"github.com/MrWong99/meetscribe/pkg/session"
)

// MaxPromptChars bounds a session summary prompt.
const MaxPromptChars = 2000

// MaxSequence is the largest fragment sequence number that fits the
// six-digit fragment name.
const MaxSequence = 999999

var (
	// ErrNotRecording is returned when audio or text is added to a session
	// that has already been handed to the pipeline.
	ErrNotRecording = errors.New("sessions: session is not recording")

	// ErrNoAudio is returned by Finalize for a session without audio.
	ErrNoAudio = errors.New("sessions: no audio uploaded")

	// ErrUnsupportedAudio is returned for fragment formats the assembler
	// cannot concatenate.
	ErrUnsupportedAudio = errors.New("sessions: unsupported fragment format")

	// ErrTranscriptUnavailable is returned when a session has no transcript
	// yet.
	ErrTranscriptUnavailable = errors.New("sessions: transcript not available")

	// ErrForbidden is returned when a session belongs to another
	// organization.
	ErrForbidden = errors.New("sessions: session belongs to another organization")
)

// Store is the session persistence used by the Service.
type Store interface {
	Create(ctx context.Context, sess *session.Session) error
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	MarkUploaded(ctx context.Context, id uuid.UUID, prompt string) error
	IncrementTotalParts(ctx context.Context, id uuid.UUID) (int, error)
}

// Summarizer produces session summaries.
type Summarizer interface {
	Summarize(ctx context.Context, sess *session.Session, opts summary.Options) (*summary.Result, error)
}

// TextAppender merges live transcript text into a session.
type TextAppender interface {
	Append(ctx context.Context, sess *session.Session, text string, ts time.Time) (liveappend.Result, error)
}

// Fragment describes a stored audio fragment.
type Fragment struct {
	Key        string
	Extension  string
	TotalParts int
}

// Status is the progress report of a session.
type Status struct {
	ID             uuid.UUID      `json:"id"`
	Status         session.Status `json:"status"`
	ProcessedParts int            `json:"processed_parts"`
	TotalParts     int            `json:"total_parts"`
	Error          string         `json:"error,omitempty"`
	HasTranscript  bool           `json:"has_transcript"`
	HasSummary     bool           `json:"has_summary"`
}

// Service implements the inbound session operations. Every method taking an
// organization id rejects sessions of other organizations with
// [ErrForbidden]; pass uuid.Nil to skip the check.
type Service struct {
	objects    objstore.Store
	store      Store
	summarizer Summarizer
	appender   TextAppender
	events     events.Publisher
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithEvents publishes the uploaded transition.
func WithEvents(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithClock overrides time.Now for live text timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(objects objstore.Store, st Store, sum Summarizer, app TextAppender, opts ...Option) *Service {
	s := &Service{
		objects:    objects,
		store:      st,
		summarizer: sum,
		appender:   app,
		events:     events.Discard,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// get loads a session and checks its organization.
func (s *Service) get(ctx context.Context, org, id uuid.UUID) (*session.Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("sessions: get %s: %w", id, err)
	}
	if org != uuid.Nil && sess.OrganizationID != org {
		return nil, ErrForbidden
	}
	return sess, nil
}

// Create starts a new recording session for org.
func (s *Service) Create(ctx context.Context, org uuid.UUID) (*session.Session, error) {
	if org == uuid.Nil {
		return nil, errors.New("sessions: create: organization id is required")
	}
	sess := &session.Session{OrganizationID: org, Status: session.StatusRecording}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("sessions: create: %w", err)
	}
	slog.Info("sessions: created", "session_id", sess.ID, "org_id", org)
	return sess, nil
}

// AppendFragment stores audio fragment seq of a recording session. The
// extension is taken from mime or sniffed from data. Re-sending a sequence
// number overwrites the earlier fragment.
func (s *Service) AppendFragment(ctx context.Context, org, id uuid.UUID, seq int, mime string, data []byte) (*Fragment, error) {
	if seq < 0 || seq > MaxSequence {
		return nil, fmt.Errorf("sessions: append fragment: sequence %d out of range [0,%d]", seq, MaxSequence)
	}
	if len(data) == 0 {
		return nil, errors.New("sessions: append fragment: empty audio")
	}
	sess, err := s.get(ctx, org, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusRecording {
		return nil, fmt.Errorf("sessions: append fragment to %s session: %w", sess.Status, ErrNotRecording)
	}

	ext := SniffExtension(mime, data)
	if !session.IsFragmentName(fmt.Sprintf("%06d.%s", seq, ext)) {
		return nil, fmt.Errorf("sessions: append fragment as %s: %w", ext, ErrUnsupportedAudio)
	}
	key := session.FragmentPath(sess.OrganizationID, sess.ID, seq, ext)
	contentType := mime
	if contentType == "" {
		contentType = "audio/" + ext
	}
	if err := s.objects.Put(ctx, key, data, contentType); err != nil {
		return nil, fmt.Errorf("sessions: store fragment: %w", err)
	}
	total, err := s.store.IncrementTotalParts(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("sessions: count fragment: %w", err)
	}
	slog.Debug("sessions: fragment stored", "session_id", sess.ID, "seq", seq, "ext", ext, "bytes", len(data))
	return &Fragment{Key: key, Extension: ext, TotalParts: total}, nil
}

// AppendText merges live transcript text into a recording session.
func (s *Service) AppendText(ctx context.Context, org, id uuid.UUID, text string) (liveappend.Result, error) {
	sess, err := s.get(ctx, org, id)
	if err != nil {
		return liveappend.Result{}, err
	}
	if sess.Status != session.StatusRecording {
		return liveappend.Result{}, fmt.Errorf("sessions: append text to %s session: %w", sess.Status, ErrNotRecording)
	}
	return s.appender.Append(ctx, sess, text, s.now())
}

// Finalize hands a recording session to the pipeline. prompt, when set,
// overrides the summary instructions and is cut to [MaxPromptChars].
func (s *Service) Finalize(ctx context.Context, org, id uuid.UUID, prompt string) error {
	sess, err := s.get(ctx, org, id)
	if err != nil {
		return err
	}
	if sess.Status != session.StatusRecording {
		return fmt.Errorf("sessions: finalize %s session: %w", sess.Status, ErrNotRecording)
	}
	ok, err := s.hasAudio(ctx, sess)
	if err != nil {
		return fmt.Errorf("sessions: finalize: %w", err)
	}
	if !ok {
		return ErrNoAudio
	}
	if r := []rune(prompt); len(r) > MaxPromptChars {
		prompt = string(r[:MaxPromptChars])
	}
	if err := s.store.MarkUploaded(ctx, sess.ID, prompt); err != nil {
		return fmt.Errorf("sessions: finalize: %w", err)
	}
	s.events.Publish(events.Event{SessionID: sess.ID, OrganizationID: sess.OrganizationID, Status: session.StatusUploaded})
	slog.Info("sessions: queued for processing", "session_id", sess.ID, "org_id", sess.OrganizationID)
	return nil
}

func (s *Service) hasAudio(ctx context.Context, sess *session.Session) (bool, error) {
	names, err := s.objects.List(ctx, session.FragmentPrefix(sess.OrganizationID, sess.ID))
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if session.IsFragmentName(n) {
			return true, nil
		}
	}
	for _, ext := range session.CombinedExtensions {
		ok, err := s.objects.Exists(ctx, session.CombinedAudioPath(sess.OrganizationID, sess.ID, ext))
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Status reports the session's processing progress.
func (s *Service) Status(ctx context.Context, org, id uuid.UUID) (*Status, error) {
	sess, err := s.get(ctx, org, id)
	if err != nil {
		return nil, err
	}
	return &Status{
		ID:             sess.ID,
		Status:         sess.Status,
		ProcessedParts: sess.ProcessedParts,
		TotalParts:     sess.TotalParts,
		Error:          sess.ErrorMessage,
		HasTranscript:  sess.TranscriptPath != "",
		HasSummary:     sess.SummaryText != "",
	}, nil
}

// Transcript renders the session transcript. When the raw recognition
// results carry usable diarization the text is split into speaker turns;
// otherwise the stored plain transcript is returned.
func (s *Service) Transcript(ctx context.Context, org, id uuid.UUID) (string, error) {
	sess, err := s.get(ctx, org, id)
	if err != nil {
		return "", err
	}

	if sess.RawResultsPath != "" {
		if text, ok := s.diarized(ctx, sess); ok {
			return text, nil
		}
	}
	if sess.TranscriptPath == "" {
		return "", ErrTranscriptUnavailable
	}
	doc, err := s.objects.Get(ctx, sess.TranscriptPath)
	if errors.Is(err, objstore.ErrNotFound) {
		return "", ErrTranscriptUnavailable
	}
	if err != nil {
		return "", fmt.Errorf("sessions: read transcript: %w", err)
	}
	text := session.PlainText(string(doc))
	if text == "" {
		return "", ErrTranscriptUnavailable
	}
	return text, nil
}

func (s *Service) diarized(ctx context.Context, sess *session.Session) (string, bool) {
	raw, err := s.objects.Get(ctx, sess.RawResultsPath)
	if err != nil {
		slog.Debug("sessions: raw results unavailable", "session_id", sess.ID, "err", err)
		return "", false
	}
	res, _, err := recognizer.Parse(raw)
	if err != nil {
		slog.Debug("sessions: raw results not parseable", "session_id", sess.ID, "err", err)
		return "", false
	}
	return RenderSpeakerTurns(res.Words)
}

// Summarize returns the session summary, generating it when it is missing or
// force is set. prompt replaces the session-level instructions for this
// call.
func (s *Service) Summarize(ctx context.Context, org, id uuid.UUID, force bool, prompt string) (*summary.Result, error) {
	sess, err := s.get(ctx, org, id)
	if err != nil {
		return nil, err
	}
	if sess.TranscriptPath == "" {
		return nil, ErrTranscriptUnavailable
	}
	res, err := s.summarizer.Summarize(ctx, sess, summary.Options{Force: force, CustomPrompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("sessions: summarize: %w", err)
	}
	return res, nil
}
