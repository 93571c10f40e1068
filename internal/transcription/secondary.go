package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/meetscribe/internal/observe"
	"github.com/MrWong99/meetscribe/pkg/objstore"
	"github.com/MrWong99/meetscribe/pkg/session"
)

// runSecondary transcribes wav with the secondary engine and stores its
// structured and plain outputs next to the primary transcript.
func (a *Adapter) runSecondary(ctx context.Context, org, id uuid.UUID, wav []byte) (err error) {
	start := time.Now()
	defer func() { a.metrics.RecordStage(ctx, observe.StageSecondary, start, err) }()

	res, err := a.secondary.Transcribe(ctx, wav)
	if err != nil {
		a.metrics.RecordProviderError(ctx, "secondary", "transcribe")
		return fmt.Errorf("transcribe: %w", err)
	}
	a.metrics.RecordProviderRequest(ctx, "secondary", "transcribe", "ok")
	if res == nil {
		return fmt.Errorf("transcribe: empty result")
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	jsonKey := session.SecondaryJSONPath(org, id)
	if err := a.objects.Put(ctx, jsonKey, data, objstore.ContentTypeJSON); err != nil {
		return fmt.Errorf("write %s: %w", jsonKey, err)
	}
	textKey := session.SecondaryTextPath(org, id)
	if err := a.objects.Put(ctx, textKey, []byte(res.Text()), objstore.ContentTypeText); err != nil {
		return fmt.Errorf("write %s: %w", textKey, err)
	}
	if err := a.store.SetSecondaryPath(ctx, id, jsonKey); err != nil {
		return fmt.Errorf("record path: %w", err)
	}
	slog.Info("transcription: secondary transcript stored", "session_id", id, "segments", len(res.Segments), "elapsed", time.Since(start))
	return nil
}
