package lsp

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned by Start on a client that is not stopped.
	ErrAlreadyStarted = errors.New("lsp client already started")

	// ErrShutdown indicates the connection to the server is closed.
	ErrShutdown = errors.New("lsp connection shut down")

	// ErrNotRunning indicates the client has no running server.
	ErrNotRunning = errors.New("language server not running")

	// ErrNotSelected indicates a document is outside the client's document selector.
	ErrNotSelected = errors.New("document not matched by selector")

	// ErrDocumentNotOpen indicates the document is not open.
	ErrDocumentNotOpen = errors.New("document not open")

	// ErrDocumentAlreadyOpen indicates the document is already open.
	ErrDocumentAlreadyOpen = errors.New("document already open")

	// ErrServerExited indicates the server process terminated.
	ErrServerExited = errors.New("language server process exited")
)

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// JSON-RPC and LSP error codes.
const (
	CodeParseError           = -32700
	CodeInvalidRequest       = -32600
	CodeMethodNotFound       = -32601
	CodeInvalidParams        = -32602
	CodeInternalError        = -32603
	CodeServerNotInitialized = -32002
	CodeRequestFailed        = -32803
)

// ServerError wraps a failure of the server process or its handshake.
type ServerError struct {
	Op  string
	Err error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("language server %s: %v", e.Op, e.Err)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
