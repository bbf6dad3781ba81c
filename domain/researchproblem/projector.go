package researchproblem

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	eventcore "github.com/thinkrank/eventcore"
	"github.com/thinkrank/eventcore/projector"
)

// IndexSchema provisions the research-problem index read model and the
// game-transformation index — the latter populated only by
// ResearchProblemTransformedToGame.
const IndexSchema = `
CREATE TABLE IF NOT EXISTS research_problem_index (
    problem_id           text PRIMARY KEY,
    title                text NOT NULL,
    status               text NOT NULL,
    reviewer_id          text NOT NULL DEFAULT '',
    last_applied_version bigint NOT NULL,
    updated_at           timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS game_transformation_index (
    problem_id           text PRIMARY KEY,
    game_problem_id      text NOT NULL,
    last_applied_version bigint NOT NULL,
    transformed_at       timestamptz NOT NULL DEFAULT now()
);
`

// IndexHandler returns a projector.Handler that maintains
// research_problem_index and game_transformation_index, idempotent per row
// via last_applied_version.
func IndexHandler(pool *pgxpool.Pool) projector.Handler {
	return func(ctx context.Context, ev eventcore.StoredEvent) error {
		switch e := ev.Payload.(type) {
		case ResearchProblemCreated:
			_, err := pool.Exec(ctx, `
				INSERT INTO research_problem_index (problem_id, title, status, last_applied_version)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (problem_id) DO UPDATE
				SET title = EXCLUDED.title, status = EXCLUDED.status, last_applied_version = EXCLUDED.last_applied_version,
				    updated_at = now()
				WHERE research_problem_index.last_applied_version < EXCLUDED.last_applied_version
			`, e.ProblemID, e.Title, string(StatusDraft), ev.Version)
			return wrap(err)

		case ResearchProblemReviewed:
			status := StatusRejected
			if e.Approved {
				status = StatusApproved
			}
			_, err := pool.Exec(ctx,
				`UPDATE research_problem_index
				 SET status = $1, reviewer_id = $2, last_applied_version = $3, updated_at = now()
				 WHERE problem_id = $4 AND last_applied_version < $3`,
				string(status), e.ReviewerID, ev.Version, e.ProblemID)
			return wrap(err)

		case ResearchProblemTransformedToGame:
			_, err := pool.Exec(ctx,
				`UPDATE research_problem_index SET status = $1, last_applied_version = $2, updated_at = now()
				 WHERE problem_id = $3 AND last_applied_version < $2`,
				string(StatusTransformed), ev.Version, e.ProblemID)
			if err != nil {
				return wrap(err)
			}
			_, err = pool.Exec(ctx, `
				INSERT INTO game_transformation_index (problem_id, game_problem_id, last_applied_version)
				VALUES ($1, $2, $3)
				ON CONFLICT (problem_id) DO UPDATE
				SET game_problem_id = EXCLUDED.game_problem_id, last_applied_version = EXCLUDED.last_applied_version,
				    transformed_at = now()
				WHERE game_transformation_index.last_applied_version < EXCLUDED.last_applied_version
			`, e.ProblemID, e.GameProblemID, ev.Version)
			return wrap(err)

		case ResearchProblemRetired:
			_, err := pool.Exec(ctx,
				`UPDATE research_problem_index SET status = $1, last_applied_version = $2, updated_at = now()
				 WHERE problem_id = $3 AND last_applied_version < $2`,
				string(StatusRetired), ev.Version, e.ProblemID)
			return wrap(err)
		}
		return nil
	}
}

func wrap(err error) error {
	if err != nil {
		return fmt.Errorf("researchproblem: index update: %w", err)
	}
	return nil
}
