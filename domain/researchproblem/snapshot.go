package researchproblem

import (
	"encoding/json"
	"fmt"
)

type state struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	Status        Status `json:"status"`
	ReviewerID    string `json:"reviewer_id"`
	ReviewNotes   string `json:"review_notes"`
	GameProblemID string `json:"game_problem_id"`
	Version       int64  `json:"version"`
}

// SerializeState implements eventcore.Snapshotable.
func (a *Aggregate) SerializeState() ([]byte, error) {
	return json.Marshal(state{
		ID:            a.id,
		Title:         a.title,
		Content:       a.content,
		Status:        a.status,
		ReviewerID:    a.reviewerID,
		ReviewNotes:   a.reviewNotes,
		GameProblemID: a.gameProblemID,
		Version:       a.Version(),
	})
}

// LoadState implements eventcore.Snapshotable.
func (a *Aggregate) LoadState(raw []byte, version int64) error {
	var s state
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("researchproblem: decode snapshot: %w", err)
	}
	a.id = s.ID
	a.title = s.Title
	a.content = s.Content
	a.status = s.Status
	a.reviewerID = s.ReviewerID
	a.reviewNotes = s.ReviewNotes
	a.gameProblemID = s.GameProblemID
	a.SetAggregateID(s.ID)
	a.SetVersion(version)
	return nil
}
