package outbox

import (
	"encoding/json"
	"time"
)

// PayloadEnvelope is the stable payload structure stored in outbox_events and
// shipped to the broker verbatim.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}
