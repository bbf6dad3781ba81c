package contentgeneration

import (
	eventcore "github.com/thinkrank/eventcore"
	"github.com/thinkrank/eventcore/repository"
)

// Kind binds the aggregate_type tag "content_generation" to its
// constructor, for repository.New.
var Kind = repository.Kind[*Aggregate]{
	Type: "content_generation",
	New:  New,
}

// CodecRegistry returns the event-type → codec table EventStore
// implementations need to encode/decode this aggregate's events.
func CodecRegistry() map[string]eventcore.EventCodec {
	return map[string]eventcore.EventCodec{
		"ContentRequested":         eventcore.JSONCodec[ContentRequested](),
		"ContentCompleted":         eventcore.JSONCodec[ContentCompleted](),
		"ContentFlagged":           eventcore.JSONCodec[ContentFlagged](),
		"ContentGenerationDeleted": eventcore.JSONCodec[ContentGenerationDeleted](),
	}
}
