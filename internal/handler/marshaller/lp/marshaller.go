package lpmarshaller

import (
	"encoding/json"
)

// Response defines the top-level JSON array to support event batching.
type Response struct {
	Events []json.RawMessage `json:"events"`
}

// MarshallFrames wraps already encoded notification frames into one batch.
// Frames are the same bytes a websocket peer would receive.
func MarshallFrames(frames [][]byte) ([]byte, error) {
	res := Response{
		Events: make([]json.RawMessage, 0, len(frames)),
	}
	for _, f := range frames {
		res.Events = append(res.Events, json.RawMessage(f))
	}
	return json.Marshal(res)
}
