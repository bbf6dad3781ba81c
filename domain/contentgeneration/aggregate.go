// Package contentgeneration implements the content-generation aggregate:
// one instance per content-generation request, tracking its lifecycle from
// request through completion, moderation flagging, and soft delete.
// Private fields, an event/apply pair, and a command-shaped public API.
package contentgeneration

import (
	"fmt"

	eventcore "github.com/thinkrank/eventcore"
)

// Status is the lifecycle state of a content generation request.
type Status string

const (
	StatusRequested Status = "requested"
	StatusCompleted Status = "completed"
	StatusFlagged   Status = "flagged"
	StatusDeleted   Status = "deleted"
)

// Aggregate is one content-generation request's event-sourced state.
type Aggregate struct {
	eventcore.Base

	id            string
	topic         string
	difficulty    string
	status        Status
	generatedText string
	imageURI      string
	isAIGenerated bool
	confidence    float64
}

// New constructs a fresh, unsaved Aggregate for id. Matches the
// repository.Kind[T].New constructor contract.
func New(id string) *Aggregate {
	a := &Aggregate{id: id}
	a.Init("content_generation", id, a.apply)
	return a
}

func (a *Aggregate) ID() string            { return a.id }
func (a *Aggregate) Status() Status        { return a.status }
func (a *Aggregate) Topic() string         { return a.topic }
func (a *Aggregate) GeneratedText() string { return a.generatedText }
func (a *Aggregate) ImageURI() string      { return a.imageURI }
func (a *Aggregate) IsAIGenerated() bool   { return a.isAIGenerated }
func (a *Aggregate) Confidence() float64   { return a.confidence }

// RequestContentGeneration creates the request at version 1.
func (a *Aggregate) RequestContentGeneration(topic, difficulty string) error {
	if a.status != "" {
		return fmt.Errorf("content generation %s already requested", a.id)
	}
	if topic == "" {
		return fmt.Errorf("topic must not be empty")
	}
	a.Raise(ContentRequested{RequestID: a.id, Topic: topic, Difficulty: difficulty})
	return nil
}

// CompleteContentGeneration records the provider's output against a
// Requested request.
func (a *Aggregate) CompleteContentGeneration(text, imageURI string) error {
	if a.status != StatusRequested {
		return fmt.Errorf("content generation %s is not awaiting completion (status=%s)", a.id, a.status)
	}
	a.Raise(ContentCompleted{RequestID: a.id, Text: text, ImageURI: imageURI})
	return nil
}

// FlagContentGeneration records a moderation verdict from
// ports.ContentProvider.Detect.
func (a *Aggregate) FlagContentGeneration(isAIGenerated bool, confidence float64, explanation string) error {
	if a.status == StatusDeleted {
		return fmt.Errorf("content generation %s is deleted", a.id)
	}
	a.Raise(ContentFlagged{
		RequestID:     a.id,
		IsAIGenerated: isAIGenerated,
		Confidence:    confidence,
		Explanation:   explanation,
	})
	return nil
}

// DeleteContentGeneration soft-deletes the request; the event row is never
// removed.
func (a *Aggregate) DeleteContentGeneration() error {
	if a.status == StatusDeleted {
		return fmt.Errorf("content generation %s already deleted", a.id)
	}
	a.Raise(ContentGenerationDeleted{RequestID: a.id})
	return nil
}

func (a *Aggregate) apply(e eventcore.Event) {
	switch ev := e.(type) {
	case ContentRequested:
		a.id = ev.RequestID
		a.topic = ev.Topic
		a.difficulty = ev.Difficulty
		a.status = StatusRequested
	case ContentCompleted:
		a.generatedText = ev.Text
		a.imageURI = ev.ImageURI
		a.status = StatusCompleted
	case ContentFlagged:
		a.isAIGenerated = ev.IsAIGenerated
		a.confidence = ev.Confidence
		a.status = StatusFlagged
	case ContentGenerationDeleted:
		a.status = StatusDeleted
	}
}

var _ eventcore.Snapshotable = (*Aggregate)(nil)
