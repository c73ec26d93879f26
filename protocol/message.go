// Package protocol defines the wire envelope exchanged with the client. Every
// frame carries one JSON encoded Message whose kind selects the populated body.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/fansqz/debug-session/constants"
	e "github.com/fansqz/debug-session/error"
)

// Message 线上传输的消息
type Message struct {
	Kind     constants.DebugMessageType `json:"kind"`
	Request  *Request                   `json:"request,omitempty"`
	Response *Response                  `json:"response,omitempty"`
	Event    *Event                     `json:"event,omitempty"`
}

// Status is embedded in every response variant.
type Status struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// OK 成功状态
func OK() Status {
	return Status{Success: true}
}

// Failed converts err into a failed status.
func Failed(err error) Status {
	if err == nil {
		return OK()
	}
	return Status{Success: false, ErrorMessage: err.Error()}
}

// Decode parses a frame payload. Degenerate envelopes (no kind, or a kind
// without its body) return e.ErrInvalidEnvelope.
func Decode(payload []byte) (*Message, error) {
	m := &Message{}
	if err := json.Unmarshal(payload, m); err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrInvalidEnvelope, err)
	}
	switch m.Kind {
	case constants.RequestMessage:
		if m.Request == nil {
			return nil, fmt.Errorf("%w: request kind without request body", e.ErrInvalidEnvelope)
		}
	case constants.ResponseMessage:
		if m.Response == nil {
			return nil, fmt.Errorf("%w: response kind without response body", e.ErrInvalidEnvelope)
		}
	case constants.EventMessage:
		if m.Event == nil {
			return nil, fmt.Errorf("%w: event kind without event body", e.ErrInvalidEnvelope)
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", e.ErrInvalidEnvelope, m.Kind)
	}
	return m, nil
}

// Encode serializes a message for the transport.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// NewRequestMessage 包装请求
func NewRequestMessage(r *Request) *Message {
	return &Message{Kind: constants.RequestMessage, Request: r}
}

// NewResponseMessage 包装响应
func NewResponseMessage(r *Response) *Message {
	return &Message{Kind: constants.ResponseMessage, Response: r}
}

// NewEventMessage 包装事件
func NewEventMessage(ev *Event) *Message {
	return &Message{Kind: constants.EventMessage, Event: ev}
}
