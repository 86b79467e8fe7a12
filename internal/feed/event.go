package feed

import (
	"encoding/json"
	"fmt"
)

// Event is one change on its way to the relay.
type Event struct {
	Topic     string          `json:"topic"`
	Operation string          `json:"operation"`
	Value     json.RawMessage `json:"value,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s", e.Operation, e.Topic)
}
