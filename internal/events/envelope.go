package events

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	consumeEnvelopedEnv = "CONSUME_ENVELOPED_EVENTS"
	publishEnvelopedEnv = "PUBLISH_ENVELOPED_EVENTS"
)

// EventEnvelope represents the shared envelope for v1 contracts.
type EventEnvelope struct {
	EventName     string          `json:"eventName"`
	EventVersion  int             `json:"eventVersion"`
	EventID       string          `json:"eventId"`
	CorrelationID string          `json:"correlationId,omitempty"`
	CausationID   string          `json:"causationId,omitempty"`
	Producer      string          `json:"producer"`
	PartitionKey  string          `json:"partitionKey"`
	Sequence      int64           `json:"sequence,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Schema        string          `json:"schema"`
	Payload       json.RawMessage `json:"payload"`
}

func (e EventEnvelope) Validate(expectedName string, expectedVersion int) error {
	if e.EventName != expectedName {
		return fmt.Errorf("unexpected eventName %q", e.EventName)
	}
	if e.EventVersion != expectedVersion {
		return fmt.Errorf("unexpected eventVersion %d", e.EventVersion)
	}
	if e.PartitionKey == "" {
		return fmt.Errorf("missing partitionKey")
	}
	if e.EventID == "" {
		return fmt.Errorf("missing eventId")
	}
	return nil
}

func parseEnvelope(body []byte) (EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return EventEnvelope{}, err
	}
	return env, nil
}

// ConsumeEnvelopedEnabled reports whether consumers should attempt to parse
// the shared envelope before falling back to the bare payload. Defaults on.
func ConsumeEnvelopedEnabled() bool {
	v := os.Getenv(consumeEnvelopedEnv)
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

// PublishEnvelopedEnabled reports whether producers wrap payloads in the
// shared envelope. Defaults on.
func PublishEnvelopedEnabled() bool {
	v := os.Getenv(publishEnvelopedEnv)
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}
