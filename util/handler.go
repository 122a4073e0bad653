package util

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
)

// LegacyHandler is a tool handler that only needs the raw argument
// map.
type LegacyHandler func(arguments map[string]interface{}) (*mcp.CallToolResult, error)

// AdaptLegacyHandler lifts a LegacyHandler to the server handler
// signature.
func AdaptLegacyHandler(h LegacyHandler) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return h(request.GetArguments())
	}
}

// ErrorGuard converts handler panics into tool error results instead
// of taking the server down.
func ErrorGuard(h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithFields(logrus.Fields{
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("Tool handler panicked")
				result = mcp.NewToolResultError(fmt.Sprintf("internal error: %v", r))
				err = nil
			}
		}()
		return h(ctx, request)
	}
}
