package contentgeneration

// ContentRequested is emitted when a content generation request is created.
type ContentRequested struct {
	RequestID  string
	Topic      string
	Difficulty string
}

func (ContentRequested) EventType() string { return "ContentRequested" }

// ContentCompleted is emitted when the content provider has produced output
// for a requested generation.
type ContentCompleted struct {
	RequestID string
	Text      string
	ImageURI  string
}

func (ContentCompleted) EventType() string { return "ContentCompleted" }

// ContentFlagged is emitted when ports.ContentProvider.Detect returns a
// moderation verdict for the generated content.
type ContentFlagged struct {
	RequestID     string
	IsAIGenerated bool
	Confidence    float64
	Explanation   string
}

func (ContentFlagged) EventType() string { return "ContentFlagged" }

// ContentGenerationDeleted soft-deletes a request; the event row itself is
// never removed.
type ContentGenerationDeleted struct {
	RequestID string
}

func (ContentGenerationDeleted) EventType() string { return "ContentGenerationDeleted" }
