package ws

import (
	"encoding/json"
	"reflect"

	"github.com/noteduco342/om-channels/internal/apperr"
)

// inbound maps a client frame type to its payload struct. Server frames are
// never decoded.
var inbound = map[string]reflect.Type{}

func init() {
	for _, frame := range []Inbound{
		&MessagePing{},
		&MessagePong{},
		&MessageResume{},
		&MessageRead{},
	} {
		RegisterType(frame)
	}
}

func RegisterType(msg Inbound) {
	inbound[msg.GetType()] = reflect.TypeOf(msg).Elem()
}

// GetTypeRegistry returns the inbound registry for tests.
func GetTypeRegistry() map[string]reflect.Type {
	return inbound
}

// Serialize wraps msg in its {type, payload} envelope.
func Serialize(msg Message) ([]byte, error) {
	payload, err := ToJson(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(SerializedMessage{Type: msg.GetType(), Payload: payload})
}

// Deserialize decodes a client frame. Malformed and unknown frames come back
// as InvalidArgument so the session can report them and keep reading.
func Deserialize(data []byte) (Inbound, error) {
	var wrapper SerializedMessage
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidArgument, "malformed frame", err)
	}
	return DeserializeSerializedMessage(&wrapper)
}

func DeserializeSerializedMessage(wrapper *SerializedMessage) (Inbound, error) {
	msg, err := CreateMessage(wrapper.Type, inbound)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidArgument, err.Error(), err)
	}
	// ping and pong usually carry no payload
	if len(wrapper.Payload) == 0 || string(wrapper.Payload) == "null" {
		return msg, nil
	}
	if err := FromJson(wrapper.Payload, msg); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidArgument, "malformed "+wrapper.Type+" payload", err)
	}
	return msg, nil
}
