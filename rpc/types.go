// Package rpc exposes the staking ledger via a JSON-RPC 2.0 HTTP endpoint
// and a websocket event stream.
package rpc

import (
	"encoding/json"

	"github.com/tolelom/tolstake/staking"
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

// Error represents a JSON-RPC error object. Data carries the error kind for
// ledger failures.
type Error struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
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
	CodeUnavailable    = -32002
)

// Ledger error codes, one per staking.Kind.
const (
	CodePoolNotFound            = -32010
	CodeAlreadyExists           = -32011
	CodeForbidden               = -32012
	CodeInvalidArgument         = -32013
	CodeAlreadyStaked           = -32014
	CodeNothingStaked           = -32015
	CodeDurationNotMet          = -32016
	CodeInsufficientRewardFunds = -32017
	CodeCalculation             = -32018
	CodeTransferFailed          = -32019
	CodePoolClosed              = -32020
)

var kindCodes = map[staking.Kind]int{
	staking.KindPoolNotFound:            CodePoolNotFound,
	staking.KindAlreadyExists:           CodeAlreadyExists,
	staking.KindUnauthorized:            CodeForbidden,
	staking.KindInvalidArgument:         CodeInvalidArgument,
	staking.KindAlreadyStaked:           CodeAlreadyStaked,
	staking.KindNothingStaked:           CodeNothingStaked,
	staking.KindDurationNotMet:          CodeDurationNotMet,
	staking.KindInsufficientRewardFunds: CodeInsufficientRewardFunds,
	staking.KindCalculation:             CodeCalculation,
	staking.KindTransferFailed:          CodeTransferFailed,
	staking.KindPoolClosed:              CodePoolClosed,
}

// CodeFor returns the JSON-RPC error code for a ledger error kind.
func CodeFor(kind staking.Kind) int {
	if c, ok := kindCodes[kind]; ok {
		return c
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

// ledgerErr maps an error from the ledger to a response carrying its kind.
func ledgerErr(id any, err error) Response {
	kind := staking.KindOf(err)
	resp := errResponse(id, CodeFor(kind), err.Error())
	resp.Error.Data = map[string]any{"kind": string(kind)}
	return resp
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
