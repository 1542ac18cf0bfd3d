package realtime

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	MsgSnapshot      MessageType = "snapshot"
	MsgPresenceDelta MessageType = "presence_delta"
	MsgChatAssigned  MessageType = "chat_assigned"
	MsgError         MessageType = "error"
)

// Message is the websocket envelope shared by the hub and the agent.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UserPresence is one user's presence record as carried on the wire.
type UserPresence struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SnapshotPayload carries the full presence state of the hub. Sent on
// connect and on a periodic ticker so clients can self-heal after
// missed deltas.
type SnapshotPayload struct {
	Users []UserPresence `json:"users"`
}

// PresenceDeltaPayload carries one or more presence changes, batched by
// the hub's broadcast throttle.
type PresenceDeltaPayload struct {
	Updates []UserPresence `json:"updates"`
}

// ChatAssignedPayload announces a chat handed to a user. Consumers use
// it only as a trigger to re-run reconciliation.
type ChatAssignedPayload struct {
	UserID     string    `json:"userId"`
	ChatID     string    `json:"chatId"`
	AssignedAt time.Time `json:"assignedAt"`
}

// Marshal wraps a typed payload in a Message envelope.
func Marshal(t MessageType, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: data}, nil
}
