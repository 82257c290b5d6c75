package queue

import "encoding/json"

// Message is one workflow action dispatched to downstream consumers.
type Message struct {
	EnvelopeID  string `json:"envelopeId"`
	RecipientID string `json:"recipientId,omitempty"`
	Action      string `json:"action"`
	Trigger     string `json:"trigger"`
	EnqueuedAt  string `json:"enqueuedAt"`
	Version     int    `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
