// Package rpc exposes blockchain and auction house state via a JSON-RPC 2.0
// HTTP endpoint.
package rpc

import (
	"encoding/json"
	"errors"

	"github.com/tolelom/tolauction/core"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object. Data carries the error kind and
// code of classified failures.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData identifies a classified failure.
type ErrorData struct {
	Kind string `json:"kind"`
	Code string `json:"code,omitempty"`
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32000
	CodeNotFound       = -32001
)

// Application error codes, one per error kind.
const (
	CodeAuthorization       = -32010
	CodeState               = -32011
	CodeValidation          = -32012
	CodeInsufficientBalance = -32013
	CodeExternalCall        = -32014
)

var kindCodes = map[string]int{
	"authorization":        CodeAuthorization,
	"state":                CodeState,
	"validation":           CodeValidation,
	"insufficient_balance": CodeInsufficientBalance,
	"external_call":        CodeExternalCall,
}

// codeForKind maps an error kind to its JSON-RPC code.
func codeForKind(kind string) int {
	if code, ok := kindCodes[kind]; ok {
		return code
	}
	return CodeInternalError
}

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

// classifiedResponse reports err with the code of its kind.
func classifiedResponse(id any, err error) Response {
	if errors.Is(err, core.ErrNotFound) {
		return errResponse(id, CodeNotFound, err.Error())
	}
	kind, code := core.Classify(err)
	resp := errResponse(id, codeForKind(kind), err.Error())
	resp.Error.Data = &ErrorData{Kind: kind, Code: code}
	return resp
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
