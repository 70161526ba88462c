package event

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/semstreams/message"
)

// ParseMessage extracts a typed payload from raw NATS message data. Bus
// traffic arrives wrapped in a message.BaseMessage envelope; scenario files
// and external feeds may deliver the bare payload JSON instead. Both shapes
// are accepted. If the result implements Validate, it is validated.
func ParseMessage[T any](data []byte) (*T, error) {
	var out T

	var baseMsg message.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err == nil && baseMsg.Payload() != nil {
		payloadBytes, err := json.Marshal(baseMsg.Payload())
		if err != nil {
			return nil, fmt.Errorf("marshal envelope payload: %w", err)
		}
		if err := json.Unmarshal(payloadBytes, &out); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	} else if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}

	if v, ok := any(&out).(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
	}
	return &out, nil
}
