// Package gloprpc implements the control socket: line-delimited JSON
// Request/Response framing over loopback TCP. Every line is a
// single-key object whose key names the variant it carries.
package gloprpc

import "encoding/json"

// AddRequest asks the supervisor to compile the glop file at Source
// and register it under Name.
type AddRequest struct {
	Source string `json:"source" validate:"required"`
	Name   string `json:"name" validate:"required,agentname"`
}

// RemoveRequest asks the supervisor to stop and forget Name.
type RemoveRequest struct {
	Name string `json:"name" validate:"required,agentname"`
}

// Envelope is the wire form of an inter-agent message:
// `{dst, topic, contents: Obj}`.
type Envelope struct {
	Dst      string         `json:"dst" validate:"required"`
	Topic    string         `json:"topic" validate:"required"`
	Contents map[string]any `json:"contents"`
}

// ListResponse carries every currently-registered agent name.
type ListResponse struct {
	Names []string `json:"names"`
}

// ErrorResponse surfaces a request-level failure (parse/IO at Add
// time, or a malformed request) back to the caller. The Add/Remove/
// List/SendTo Response variants cover the success path only; Error
// exists so a bad Add doesn't leave the caller hanging. The server
// closes the connection after sending it.
type ErrorResponse struct {
	Message string `json:"message"`
}

// request is the envelope a decoded wire line is unpacked into: at
// most one of these fields is non-nil, selected by which JSON key was
// present.
type request struct {
	Add    *AddRequest    `json:"Add,omitempty"`
	Remove *RemoveRequest `json:"Remove,omitempty"`
	List   *struct{}      `json:"List,omitempty"`
	SendTo *Envelope      `json:"SendTo,omitempty"`
}

// response is the wire encoding counterpart to request.
type response struct {
	Add    *struct{}      `json:"Add,omitempty"`
	Remove *struct{}      `json:"Remove,omitempty"`
	List   *ListResponse  `json:"List,omitempty"`
	SendTo *struct{}      `json:"SendTo,omitempty"`
	Error  *ErrorResponse `json:"Error,omitempty"`
}

var emptyObj = &struct{}{}

func encodeAdd() []byte    { b, _ := json.Marshal(response{Add: emptyObj}); return b }
func encodeRemove() []byte { b, _ := json.Marshal(response{Remove: emptyObj}); return b }
func encodeSendTo() []byte { b, _ := json.Marshal(response{SendTo: emptyObj}); return b }

func encodeList(names []string) []byte {
	if names == nil {
		names = []string{}
	}
	b, _ := json.Marshal(response{List: &ListResponse{Names: names}})
	return b
}

func encodeError(message string) []byte {
	b, _ := json.Marshal(response{Error: &ErrorResponse{Message: message}})
	return b
}
