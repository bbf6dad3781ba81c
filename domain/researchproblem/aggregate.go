// Package researchproblem implements the research-problem aggregate: one
// instance per research problem submission, tracking its lifecycle from
// creation through review and, for approved problems, transformation into
// a playable game problem. Structured after domain/contentgeneration's
// aggregate.
package researchproblem

import (
	"fmt"

	eventcore "github.com/thinkrank/eventcore"
)

// Status is the lifecycle state of a research problem.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusTransformed Status = "transformed"
	StatusRetired     Status = "retired"
)

// Aggregate is one research problem's event-sourced state.
type Aggregate struct {
	eventcore.Base

	id            string
	title         string
	content       string
	status        Status
	reviewerID    string
	reviewNotes   string
	gameProblemID string
}

// New constructs a fresh, unsaved Aggregate for id.
func New(id string) *Aggregate {
	a := &Aggregate{id: id}
	a.Init("research_problem", id, a.apply)
	return a
}

func (a *Aggregate) ID() string            { return a.id }
func (a *Aggregate) Status() Status        { return a.status }
func (a *Aggregate) Title() string         { return a.title }
func (a *Aggregate) Content() string       { return a.content }
func (a *Aggregate) GameProblemID() string { return a.gameProblemID }

// CreateResearchProblem creates the problem at version 1.
func (a *Aggregate) CreateResearchProblem(title, content string) error {
	if a.status != "" {
		return fmt.Errorf("research problem %s already created", a.id)
	}
	if title == "" {
		return fmt.Errorf("title must not be empty")
	}
	a.Raise(ResearchProblemCreated{ProblemID: a.id, Title: title, Content: content})
	return nil
}

// ReviewResearchProblem records a reviewer's verdict on a Draft problem.
func (a *Aggregate) ReviewResearchProblem(approved bool, reviewerID, notes string) error {
	if a.status != StatusDraft {
		return fmt.Errorf("research problem %s is not awaiting review (status=%s)", a.id, a.status)
	}
	a.Raise(ResearchProblemReviewed{
		ProblemID:  a.id,
		Approved:   approved,
		ReviewerID: reviewerID,
		Notes:      notes,
	})
	return nil
}

// TransformToGameProblem bridges an Approved problem into the
// game-transformation read model, recording the id of the
// resulting game problem.
func (a *Aggregate) TransformToGameProblem(gameProblemID string) error {
	if a.status != StatusApproved {
		return fmt.Errorf("research problem %s is not approved (status=%s)", a.id, a.status)
	}
	if gameProblemID == "" {
		return fmt.Errorf("gameProblemID must not be empty")
	}
	a.Raise(ResearchProblemTransformedToGame{ProblemID: a.id, GameProblemID: gameProblemID})
	return nil
}

// RetireResearchProblem soft-retires the problem; the event row is never
// removed.
func (a *Aggregate) RetireResearchProblem() error {
	if a.status == StatusRetired {
		return fmt.Errorf("research problem %s already retired", a.id)
	}
	a.Raise(ResearchProblemRetired{ProblemID: a.id})
	return nil
}

func (a *Aggregate) apply(e eventcore.Event) {
	switch ev := e.(type) {
	case ResearchProblemCreated:
		a.id = ev.ProblemID
		a.title = ev.Title
		a.content = ev.Content
		a.status = StatusDraft
	case ResearchProblemReviewed:
		a.reviewerID = ev.ReviewerID
		a.reviewNotes = ev.Notes
		if ev.Approved {
			a.status = StatusApproved
		} else {
			a.status = StatusRejected
		}
	case ResearchProblemTransformedToGame:
		a.gameProblemID = ev.GameProblemID
		a.status = StatusTransformed
	case ResearchProblemRetired:
		a.status = StatusRetired
	}
}

var _ eventcore.Snapshotable = (*Aggregate)(nil)
