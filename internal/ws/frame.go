package ws

import (
	"encoding/json"
)

// Frame is one JSON text message on the socket in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   *int64          `json:"ack,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AckPayload answers an inbound frame that carried an ack id.
type AckPayload struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

// ErrorPayload reports a failed inbound frame that carried no ack id.
type ErrorPayload struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ConnectPayload struct {
	Token string `json:"token"`
}

type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       int    `json:"userId"`
}

type outboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
	Ack   *int64 `json:"ack,omitempty"`
}

// EncodeFrame marshals an outbound frame.
func EncodeFrame(event string, data any) ([]byte, error) {
	return json.Marshal(outboundFrame{Event: event, Data: data})
}

func encodeAck(ack int64, payload AckPayload) ([]byte, error) {
	return json.Marshal(outboundFrame{Event: "ack", Data: payload, Ack: &ack})
}
