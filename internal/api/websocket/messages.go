package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeRegisterUpdate MessageType = "register_update"
	MessageTypeSnapshot       MessageType = "snapshot"
	MessageTypeSetResult      MessageType = "set_result"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// RegisterUpdateData carries one changed register value
type RegisterUpdateData struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	Valid     bool        `json:"valid"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// SetResultData answers a client "set" command
type SetResultData struct {
	RequestID string `json:"request_id,omitempty"`
	Key       string `json:"key"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewRegisterUpdateMessage(key string, value interface{}, valid bool, updatedAt time.Time) Message {
	return NewMessage(MessageTypeRegisterUpdate, RegisterUpdateData{
		Key:       key,
		Value:     value,
		Valid:     valid,
		UpdatedAt: updatedAt,
	})
}

func NewSetResultMessage(requestID, key string, err error) Message {
	data := SetResultData{RequestID: requestID, Key: key, Success: err == nil}
	if err != nil {
		data.Error = err.Error()
	}
	return NewMessage(MessageTypeSetResult, data)
}
