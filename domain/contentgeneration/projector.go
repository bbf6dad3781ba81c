package contentgeneration

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	eventcore "github.com/thinkrank/eventcore"
	"github.com/thinkrank/eventcore/projector"
)

// IndexSchema provisions the content-generation index read model,
// idempotent per-row via last_applied_version.
const IndexSchema = `
CREATE TABLE IF NOT EXISTS content_generation_index (
    request_id          text PRIMARY KEY,
    topic               text NOT NULL,
    difficulty          text NOT NULL,
    status              text NOT NULL,
    is_ai_generated     boolean NOT NULL DEFAULT false,
    confidence          double precision NOT NULL DEFAULT 0,
    last_applied_version bigint NOT NULL,
    updated_at          timestamptz NOT NULL DEFAULT now()
);
`

// IndexHandler returns a projector.Handler that maintains
// content_generation_index: skip if event.version <= last_applied_version,
// else apply and advance in the same statement.
func IndexHandler(pool *pgxpool.Pool) projector.Handler {
	return func(ctx context.Context, ev eventcore.StoredEvent) error {
		switch e := ev.Payload.(type) {
		case ContentRequested:
			_, err := pool.Exec(ctx, `
				INSERT INTO content_generation_index (request_id, topic, difficulty, status, last_applied_version)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (request_id) DO UPDATE
				SET topic = EXCLUDED.topic, difficulty = EXCLUDED.difficulty, status = EXCLUDED.status,
				    last_applied_version = EXCLUDED.last_applied_version, updated_at = now()
				WHERE content_generation_index.last_applied_version < EXCLUDED.last_applied_version
			`, e.RequestID, e.Topic, e.Difficulty, string(StatusRequested), ev.Version)
			return wrap(err)

		case ContentCompleted:
			_, err := pool.Exec(ctx,
				`UPDATE content_generation_index SET status = $1, last_applied_version = $2, updated_at = now()
				 WHERE request_id = $3 AND last_applied_version < $2`,
				string(StatusCompleted), ev.Version, e.RequestID)
			return wrap(err)

		case ContentFlagged:
			_, err := pool.Exec(ctx,
				`UPDATE content_generation_index
				 SET status = $1, is_ai_generated = $2, confidence = $3, last_applied_version = $4, updated_at = now()
				 WHERE request_id = $5 AND last_applied_version < $4`,
				string(StatusFlagged), e.IsAIGenerated, e.Confidence, ev.Version, e.RequestID)
			return wrap(err)

		case ContentGenerationDeleted:
			_, err := pool.Exec(ctx,
				`UPDATE content_generation_index SET status = $1, last_applied_version = $2, updated_at = now()
				 WHERE request_id = $3 AND last_applied_version < $2`,
				string(StatusDeleted), ev.Version, e.RequestID)
			return wrap(err)
		}
		return nil
	}
}

func wrap(err error) error {
	if err != nil {
		return fmt.Errorf("contentgeneration: index update: %w", err)
	}
	return nil
}
