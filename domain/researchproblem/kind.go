package researchproblem

import (
	eventcore "github.com/thinkrank/eventcore"
	"github.com/thinkrank/eventcore/repository"
)

// Kind binds the aggregate_type tag "research_problem" to its constructor.
var Kind = repository.Kind[*Aggregate]{
	Type: "research_problem",
	New:  New,
}

// CodecRegistry returns the event-type → codec table EventStore
// implementations need for this aggregate's events.
func CodecRegistry() map[string]eventcore.EventCodec {
	return map[string]eventcore.EventCodec{
		"ResearchProblemCreated":          eventcore.JSONCodec[ResearchProblemCreated](),
		"ResearchProblemReviewed":         eventcore.JSONCodec[ResearchProblemReviewed](),
		"ResearchProblemTransformedToGame": eventcore.JSONCodec[ResearchProblemTransformedToGame](),
		"ResearchProblemRetired":          eventcore.JSONCodec[ResearchProblemRetired](),
	}
}
