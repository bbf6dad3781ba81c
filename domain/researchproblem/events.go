package researchproblem

// ResearchProblemCreated is emitted when a research problem is submitted.
type ResearchProblemCreated struct {
	ProblemID string
	Title     string
	Content   string
}

func (ResearchProblemCreated) EventType() string { return "ResearchProblemCreated" }

// ResearchProblemReviewed is emitted when a reviewer approves or rejects a
// Draft problem.
type ResearchProblemReviewed struct {
	ProblemID  string
	Approved   bool
	ReviewerID string
	Notes      string
}

func (ResearchProblemReviewed) EventType() string { return "ResearchProblemReviewed" }

// ResearchProblemTransformedToGame is emitted when an Approved problem is
// bridged into the game-transformation read model.
type ResearchProblemTransformedToGame struct {
	ProblemID     string
	GameProblemID string
}

func (ResearchProblemTransformedToGame) EventType() string { return "ResearchProblemTransformedToGame" }

// ResearchProblemRetired soft-retires a problem; the event row itself is
// never removed.
type ResearchProblemRetired struct {
	ProblemID string
}

func (ResearchProblemRetired) EventType() string { return "ResearchProblemRetired" }
