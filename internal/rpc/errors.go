// Package rpc serves task and process procedures as MCP tools over a duplex
// stream, usually the stdio of a worker.
//
// Tool arguments are checked twice: against the JSON schema inferred from the
// params struct, then against its validate tags. Either failure is a protocol
// error with code -32602. Failures inside a procedure come back as tool
// results with isError set, whose text is a ToolError.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ShayCichocki/shepherd/pkg/models"
)

// Error codes. The -320xx range carries the domain taxonomy.
const (
	CodeInvalidParams     = jsonrpc.CodeInvalidParams
	CodeInternal          = jsonrpc.CodeInternalError
	CodeNotFound          = -32004
	CodeInvalidTransition = -32010
	CodeWorkspaceConflict = -32011
	CodeRateLimited       = -32012
	CodeProcessTerminated = -32013
)

// ToolError is the body of a failed tool result.
type ToolError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool error %d: %s", e.Code, e.Message)
}

// ToError maps any error onto a ToolError, translating the domain taxonomy
// into its codes. Unknown errors become internal errors.
func ToError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	var wire *jsonrpc.Error
	if errors.As(err, &wire) {
		return &ToolError{Code: wire.Code, Message: err.Error()}
	}
	var code int64 = CodeInternal
	switch {
	case errors.Is(err, models.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, models.ErrInvalidTransition):
		code = CodeInvalidTransition
	case errors.Is(err, models.ErrValidation):
		code = CodeInvalidParams
	case errors.Is(err, models.ErrWorkspaceConflict):
		code = CodeWorkspaceConflict
	case errors.Is(err, models.ErrRateLimited):
		code = CodeRateLimited
	case errors.Is(err, models.ErrProcessTerminated):
		code = CodeProcessTerminated
	}
	return &ToolError{Code: code, Message: err.Error()}
}

// errorResult wraps err in a tool result with isError set.
func errorResult(err error) *mcp.CallToolResult {
	text, _ := json.Marshal(ToError(err))
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
		IsError: true,
	}
}

// ResultError decodes the ToolError carried by a failed tool result. It
// returns nil for successful results.
func ResultError(res *mcp.CallToolResult) *ToolError {
	if res == nil || !res.IsError {
		return nil
	}
	te := &ToolError{Code: CodeInternal}
	for _, c := range res.Content {
		if text, ok := c.(*mcp.TextContent); ok {
			if err := json.Unmarshal([]byte(text.Text), te); err != nil {
				te.Message = text.Text
			}
			break
		}
	}
	return te
}

// invalidParams builds a protocol error with data attached.
func invalidParams(message string, data any) error {
	e := &jsonrpc.Error{Code: CodeInvalidParams, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return e
}
