package backplane

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidConfig = errors.New("invalid backplane configuration")

// DefaultChannel is the bare pub/sub channel used when no namespace prefix
// is configured.
const DefaultChannel = "usignal:backplane"

// ChannelName applies the configured namespace prefix to the broadcast
// channel. An empty prefix is valid and selects the bare default channel.
// Every process sharing the backplane must use the same prefix or
// cross-process messages will not be recognized.
func ChannelName(prefix string) string {
	return prefix + DefaultChannel
}

type Kind string

const (
	KindJoin      Kind = "join"
	KindLeave     Kind = "leave"
	KindBroadcast Kind = "broadcast"
)

// ControlMessage is the unit broadcast between gateway processes: join/leave
// converge the cluster-wide view of which logical users are connected where,
// broadcast delivers an event to a user's connections on sibling processes.
type ControlMessage struct {
	Kind    Kind            `json:"kind"`
	Origin  string          `json:"origin"`
	UserID  string          `json:"userId"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (m ControlMessage) encode() (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("backplane encode: %w", err)
	}
	return string(raw), nil
}

func decodeControlMessage(raw []byte) (ControlMessage, error) {
	var m ControlMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return ControlMessage{}, fmt.Errorf("backplane decode: %w", err)
	}
	return m, nil
}

// DeliveryHandler receives broadcasts originated on sibling processes.
type DeliveryHandler interface {
	DeliverLocal(userID, event string, payload json.RawMessage)
}
