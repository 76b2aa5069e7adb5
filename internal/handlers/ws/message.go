package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/noteduco342/om-channels/internal/models"
)

// ChatAPI is the slice of the chat service reachable from client frames.
type ChatAPI interface {
	CatchUp(ctx context.Context, userID string, channelID uint, after uint64, limit int) ([]models.Message, error)
	ReadMessage(ctx context.Context, userID string, messageID uint) error
}

// MessageContext provides all dependencies needed for message processing
type MessageContext struct {
	Ctx    context.Context
	UserID string
	Chat   ChatAPI
	// Send queues a frame for the connection's writer.
	Send func(msg Message) error
}

// Message is any frame on the wire.
type Message interface {
	GetType() string
}

// Inbound is a client frame the server acts on.
type Inbound interface {
	Message
	Process(ctx *MessageContext) error
}

// SerializedMessage is the wire format wrapper
type SerializedMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func ToJson(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func FromJson(jsonBytes []byte, msg Message) error {
	return json.Unmarshal(jsonBytes, msg)
}

func CreateMessage(msgType string, typeRegistry map[string]reflect.Type) (Inbound, error) {
	msgTypeReflect, ok := typeRegistry[msgType]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %s", msgType)
	}

	instance := reflect.New(msgTypeReflect).Interface()
	return instance.(Inbound), nil
}
