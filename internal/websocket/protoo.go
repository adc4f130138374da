package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Subprotocol is the WebSocket subprotocol negotiated by protoo clients.
const Subprotocol = "protoo"

// Message is a protoo envelope. Exactly one of Request, Response or Notification
// is set. Only the envelope is interpreted here; Data is left to the handler.
type Message struct {
	Request      bool            `json:"request,omitempty"`
	Response     bool            `json:"response,omitempty"`
	Notification bool            `json:"notification,omitempty"`
	ID           uint32          `json:"id,omitempty"`
	Method       string          `json:"method,omitempty"`
	OK           bool            `json:"ok,omitempty"`
	ErrorCode    int             `json:"errorCode,omitempty"`
	ErrorReason  string          `json:"errorReason,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

var ErrMalformedMessage = errors.New("malformed protoo message")

// ParseMessage decodes and sanity checks a protoo envelope.
func ParseMessage(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch {
	case m.Request:
		if m.Method == "" {
			return nil, fmt.Errorf("%w: request without method", ErrMalformedMessage)
		}
	case m.Notification:
		if m.Method == "" {
			return nil, fmt.Errorf("%w: notification without method", ErrMalformedMessage)
		}
	case m.Response:
	default:
		return nil, fmt.Errorf("%w: not a request, response or notification", ErrMalformedMessage)
	}
	return &m, nil
}

type response struct {
	Response    bool            `json:"response"`
	ID          uint32          `json:"id"`
	OK          bool            `json:"ok"`
	Data        json.RawMessage `json:"data,omitempty"`
	ErrorCode   int             `json:"errorCode,omitempty"`
	ErrorReason string          `json:"errorReason,omitempty"`
}

type notification struct {
	Notification bool        `json:"notification"`
	Method       string      `json:"method"`
	Data         interface{} `json:"data,omitempty"`
}

// SignalingError is returned by a SignalingHandler to answer a request with a
// specific error code.
type SignalingError struct {
	Code   int
	Reason string
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Reason)
}

// Peer is the view of a signaling session given to handlers.
type Peer interface {
	RemoteEndpoint() string
	Notify(method string, data interface{}) error
}

// SignalingHandler implements the application side of the signaling protocol.
// Both methods run on the reactor and must not block.
type SignalingHandler interface {
	// HandleRequest answers a request. Returned data is sent as the response
	// payload; an error produces an error response (a *SignalingError keeps its
	// code, anything else becomes a 500).
	HandleRequest(peer Peer, req *Message) (interface{}, error)
	HandleNotification(peer Peer, n *Message)
}

// NotImplementedHandler rejects every request and ignores notifications.
type NotImplementedHandler struct{}

func (NotImplementedHandler) HandleRequest(Peer, *Message) (interface{}, error) {
	return nil, &SignalingError{Code: 404, Reason: "method not implemented"}
}

func (NotImplementedHandler) HandleNotification(Peer, *Message) {}

// buildResponse turns a handler result into the wire response for request id.
func buildResponse(id uint32, data interface{}, err error) ([]byte, error) {
	resp := response{Response: true, ID: id}

	if err != nil {
		var sigErr *SignalingError
		if errors.As(err, &sigErr) {
			resp.ErrorCode, resp.ErrorReason = sigErr.Code, sigErr.Reason
		} else {
			resp.ErrorCode, resp.ErrorReason = 500, err.Error()
		}
		return json.Marshal(resp)
	}

	resp.OK = true
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("error encoding response data: %w", err)
		}
		resp.Data = raw
	}
	return json.Marshal(resp)
}
