// Package protocol is the binary wire codec for the push channel: the small
// set of control messages a client exchanges with the server to authenticate,
// subscribe to a document's wake/presence notifications, and keep the
// connection alive. Bulk document bytes never travel this channel; they go
// over the HTTP sync endpoint instead.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// MessageTypeCode is the one-byte type tag of the binary wire format.
type MessageTypeCode byte

const (
	AUTH             MessageTypeCode = 0x01
	AUTH_SUCCESS     MessageTypeCode = 0x02
	AUTH_ERROR       MessageTypeCode = 0x03
	SUBSCRIBE        MessageTypeCode = 0x10
	UNSUBSCRIBE      MessageTypeCode = 0x11
	WAKE             MessageTypeCode = 0x20
	PING             MessageTypeCode = 0x30
	PONG             MessageTypeCode = 0x31
	AWARENESS_UPDATE MessageTypeCode = 0x40
	AWARENESS_STATE  MessageTypeCode = 0x42
	ERROR            MessageTypeCode = 0xFF
)

// Message type names used in the JSON encoding and as internal dispatch keys.
const (
	TypePing  = "ping"
	TypePong  = "pong"

	TypeAuth        = "auth"
	TypeAuthSuccess = "auth_success"
	TypeAuthError   = "auth_error"

	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeWake        = "wake"

	TypeAwarenessUpdate = "awareness_update"
	TypeAwarenessState  = "awareness_state"

	TypeError = "error"
)

var typeCodeToName = map[MessageTypeCode]string{
	AUTH:             TypeAuth,
	AUTH_SUCCESS:     TypeAuthSuccess,
	AUTH_ERROR:       TypeAuthError,
	SUBSCRIBE:        TypeSubscribe,
	UNSUBSCRIBE:      TypeUnsubscribe,
	WAKE:             TypeWake,
	PING:             TypePing,
	PONG:             TypePong,
	AWARENESS_UPDATE: TypeAwarenessUpdate,
	AWARENESS_STATE:  TypeAwarenessState,
	ERROR:            TypeError,
}

var typeNameToCode = map[string]MessageTypeCode{
	TypeAuth:            AUTH,
	TypeAuthSuccess:      AUTH_SUCCESS,
	TypeAuthError:        AUTH_ERROR,
	TypeSubscribe:        SUBSCRIBE,
	TypeUnsubscribe:      UNSUBSCRIBE,
	TypeWake:             WAKE,
	TypePing:             PING,
	TypePong:             PONG,
	TypeAwarenessUpdate:  AWARENESS_UPDATE,
	TypeAwarenessState:   AWARENESS_STATE,
	TypeError:            ERROR,
}

// Message is a decoded push-channel frame.
type Message struct {
	Type      string                 `json:"type"`
	ID        string                 `json:"id"`
	Timestamp int64                  `json:"timestamp"`
	Payload   map[string]interface{} `json:"-"`
}

// EncodeMessage serializes a message to the binary wire format:
// [type:1 byte][timestamp:8 bytes][payload_len:4 bytes][payload:JSON bytes].
func EncodeMessage(messageType string, payload map[string]interface{}, timestamp int64) ([]byte, error) {
	typeCode, ok := typeNameToCode[messageType]
	if !ok {
		typeCode = ERROR
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	payloadLen := uint32(len(payloadJSON))
	buf := make([]byte, 13+payloadLen)

	buf[0] = byte(typeCode)
	binary.BigEndian.PutUint64(buf[1:9], uint64(timestamp))
	binary.BigEndian.PutUint32(buf[9:13], payloadLen)
	copy(buf[13:], payloadJSON)

	return buf, nil
}

// DecodeMessage accepts either the binary wire format or a JSON object, so a
// browser client that cannot easily build the binary header can still speak
// the protocol.
func DecodeMessage(data []byte) (*Message, error) {
	if len(data) > 0 && (data[0] == '{' || data[0] == '[') {
		var msg map[string]interface{}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
		}

		message := &Message{Payload: msg}
		if t, ok := msg["type"].(string); ok {
			message.Type = t
		}
		if id, ok := msg["id"].(string); ok {
			message.ID = id
		}
		if ts, ok := msg["timestamp"].(float64); ok {
			message.Timestamp = int64(ts)
		}
		return message, nil
	}

	if len(data) < 13 {
		return nil, fmt.Errorf("message too short: %d bytes", len(data))
	}

	typeCode := MessageTypeCode(data[0])
	timestamp := int64(binary.BigEndian.Uint64(data[1:9]))
	payloadLen := binary.BigEndian.Uint32(data[9:13])

	if uint32(len(data)) < 13+payloadLen {
		return nil, fmt.Errorf("incomplete message: expected %d bytes, got %d", 13+payloadLen, len(data))
	}

	payloadBytes := data[13 : 13+payloadLen]
	var payload map[string]interface{}
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	typeName, ok := typeCodeToName[typeCode]
	if !ok {
		typeName = TypeError
	}

	message := &Message{
		Type:      typeName,
		Timestamp: timestamp,
		Payload:   payload,
	}
	if id, ok := payload["id"].(string); ok {
		message.ID = id
	}

	return message, nil
}
