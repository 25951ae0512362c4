package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pressline/internal/db"
)

const (
	SiteCreated               = "site.created"
	ContentCreated            = "content.created"
	ContentTransitioned       = "content.transitioned"
	ContentDeleted            = "content.deleted"
	ContentRestored           = "content.restored"
	ContentTranslationUpdated = "content.translation.updated"
	ContentTranslationDeleted = "content.translation.deleted"
	APIKeyCreated             = "apikey.created"
	APIKeyRevoked             = "apikey.revoked"
)

type Writer struct {
	DB      *sql.DB
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

// Append writes an event row inside tx so it commits with the change it records.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, siteID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format("2006-01-02T15:04:05.000000Z07:00")
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO events(ts,type,site_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		ts, evtType, nullable(siteID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
