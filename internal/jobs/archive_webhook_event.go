package jobs

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/kerf/internal/repository"
	"github.com/DukeRupert/kerf/internal/storage"
	"github.com/DukeRupert/kerf/internal/worker"
)

// maxArchiveSize bounds a single archived payload. Provider events are a few
// kilobytes; anything near this is not a real event.
const maxArchiveSize = 1 << 20

// ArchiveWebhookEventHandler copies a processed event's raw payload to object
// storage and clears it from the webhook_events row.
type ArchiveWebhookEventHandler struct {
	queries *repository.Queries
	storage storage.Storage
	logger  *slog.Logger
}

// NewArchiveWebhookEventHandler creates a new handler for archive jobs.
func NewArchiveWebhookEventHandler(queries *repository.Queries, store storage.Storage, logger *slog.Logger) *ArchiveWebhookEventHandler {
	return &ArchiveWebhookEventHandler{
		queries: queries,
		storage: store,
		logger:  logger,
	}
}

// Type returns the job type identifier.
func (h *ArchiveWebhookEventHandler) Type() string {
	return worker.JobTypeArchiveWebhookEvent
}

// Handle executes the archive job. Re-running it after a partial failure is
// safe: the object is overwritten and the row update is idempotent.
func (h *ArchiveWebhookEventHandler) Handle(ctx context.Context, payload []byte) error {
	p, err := worker.DecodePayload[worker.ArchiveWebhookEventPayload](payload)
	if err != nil {
		return err
	}
	if p.EventID == "" {
		return worker.NewPermanentError(errors.New("missing event id"))
	}

	event, err := h.queries.GetWebhookEvent(ctx, p.EventID)
	if errors.Is(err, sql.ErrNoRows) {
		h.logger.Info("Webhook event not recorded, nothing to archive", "event_id", p.EventID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get webhook event: %w", err)
	}

	if event.ArchivedKey.Valid {
		return nil
	}
	if !event.Payload.Valid || len(event.Payload.RawMessage) == 0 {
		h.logger.Warn("Webhook event has no payload to archive", "event_id", p.EventID)
		return nil
	}

	key := storage.WebhookArchiveKey(event.ID, event.ReceivedAt)
	err = h.storage.Put(ctx, key, bytes.NewReader(event.Payload.RawMessage), storage.PutOptions{
		ContentType: "application/json",
		MaxSize:     maxArchiveSize,
		Overwrite:   true,
	})
	if err != nil {
		if storage.IsPermanent(err) {
			return worker.NewPermanentError(fmt.Errorf("archive %s: %w", key, err))
		}
		return fmt.Errorf("archive %s: %w", key, err)
	}

	if err := h.queries.SetWebhookEventArchived(ctx, repository.SetWebhookEventArchivedParams{
		ID:          event.ID,
		ArchivedKey: sql.NullString{String: key, Valid: true},
	}); err != nil {
		return fmt.Errorf("mark webhook event archived: %w", err)
	}

	h.logger.Info("Webhook event archived",
		"event_id", event.ID,
		"event_type", event.EventType,
		"key", key,
	)
	return nil
}

var _ worker.JobHandler = (*ArchiveWebhookEventHandler)(nil)
