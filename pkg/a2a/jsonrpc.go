package a2a

import (
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the only protocol version accepted.
const JSONRPCVersion = "2.0"

// RPC methods.
const (
	MethodMessageSend      = "message/send"
	MethodMessageStream    = "message/stream"
	MethodTasksGet         = "tasks/get"
	MethodTasksCancel      = "tasks/cancel"
	MethodTasksResubscribe = "tasks/resubscribe"
	MethodPushConfigSet    = "tasks/pushNotificationConfig/set"
	MethodPushConfigGet    = "tasks/pushNotificationConfig/get"
)

// JSONRPCRequest is a JSON-RPC 2.0 request. ID is opaque and echoed back.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response carrying either a result or an error.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds a request whose params are canonically encoded.
func NewRequest(id any, method string, params any) (*JSONRPCRequest, error) {
	raw, err := Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}
	return &JSONRPCRequest{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: raw}, nil
}

// NewResponse builds a success response.
func NewResponse(id any, result any) (*JSONRPCResponse, error) {
	raw, err := Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response from any error; errors without a
// protocol kind are reported as Internal.
func NewErrorResponse(id any, err error) *JSONRPCResponse {
	var rpcErr *RPCError
	if re, ok := err.(*RPCError); ok {
		rpcErr = re
	} else {
		rpcErr = AsError(err).RPCError()
	}
	return &JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: id, Error: rpcErr}
}

// DecodeParams decodes request params into v, reporting malformed input as
// InvalidParams.
func DecodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return NewError(KindInvalidParams, "params are required")
	}
	if err := Unmarshal(raw, v); err != nil {
		return NewError(KindInvalidParams, "malformed params: %v", err)
	}
	return nil
}
