package websocket

import (
	"encoding/json"
	"errors"
)

// ErrMissingEvent is returned for a client frame without an event name.
var ErrMissingEvent = errors.New("frame has no event name")

// Request is a frame sent by a client. ID is optional; when present it is
// echoed on the acknowledgement so the client can correlate the two.
type Request struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    json.RawMessage `json:"id,omitempty"`
}

// Ack is the server's synchronous answer to a Request.
type Ack struct {
	Event string          `json:"event"`
	Data  string          `json:"data"`
	ID    json.RawMessage `json:"id,omitempty"`
}

// ParseRequest decodes a client frame. A frame without an event name is
// rejected.
func ParseRequest(frame []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return Request{}, err
	}
	if req.Event == "" {
		return Request{}, ErrMissingEvent
	}
	return req, nil
}

// Payload returns the request data as text. A JSON string is unquoted; any
// other JSON value is passed through as written.
func (r Request) Payload() string {
	if len(r.Data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Data, &s); err == nil {
		return s
	}
	return string(r.Data)
}

// NewAck builds the acknowledgement for req.
func NewAck(req Request, response string) Ack {
	return Ack{Event: req.Event, Data: response, ID: req.ID}
}
