package contentgeneration

import (
	"encoding/json"
	"fmt"
)

// state is the persisted snapshot shape, one JSON field per aggregate
// field.
type state struct {
	ID            string  `json:"id"`
	Topic         string  `json:"topic"`
	Difficulty    string  `json:"difficulty"`
	Status        Status  `json:"status"`
	GeneratedText string  `json:"generated_text"`
	ImageURI      string  `json:"image_uri"`
	IsAIGenerated bool    `json:"is_ai_generated"`
	Confidence    float64 `json:"confidence"`
	Version       int64   `json:"version"`
}

// SerializeState implements eventcore.Snapshotable.
func (a *Aggregate) SerializeState() ([]byte, error) {
	return json.Marshal(state{
		ID:            a.id,
		Topic:         a.topic,
		Difficulty:    a.difficulty,
		Status:        a.status,
		GeneratedText: a.generatedText,
		ImageURI:      a.imageURI,
		IsAIGenerated: a.isAIGenerated,
		Confidence:    a.confidence,
		Version:       a.Version(),
	})
}

// LoadState implements eventcore.Snapshotable.
func (a *Aggregate) LoadState(raw []byte, version int64) error {
	var s state
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("contentgeneration: decode snapshot: %w", err)
	}
	a.id = s.ID
	a.topic = s.Topic
	a.difficulty = s.Difficulty
	a.status = s.Status
	a.generatedText = s.GeneratedText
	a.imageURI = s.ImageURI
	a.isAIGenerated = s.IsAIGenerated
	a.confidence = s.Confidence
	a.SetAggregateID(s.ID)
	a.SetVersion(version)
	return nil
}
