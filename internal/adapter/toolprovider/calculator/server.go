// Package calculator is a small MCP tool provider with arithmetic tools.
// It backs the calculator-mcp binary and the "builtin:calculator" command.
package calculator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	Name    = "calculator"
	Version = "1.0.0"
)

type binaryOp func(a, b float64) (float64, error)

var operations = map[string]binaryOp{
	"add":      func(a, b float64) (float64, error) { return a + b, nil },
	"subtract": func(a, b float64) (float64, error) { return a - b, nil },
	"multiply": func(a, b float64) (float64, error) { return a * b, nil },
	"divide": func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return a / b, nil
	},
}

// NewServer returns an MCP server exposing add, subtract, multiply, divide
// and arithmetic.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(Name, Version, server.WithToolCapabilities(false))

	s.AddTool(binaryTool("add", "Add two numbers"), binaryHandler("add"))
	s.AddTool(binaryTool("subtract", "Subtract b from a"), binaryHandler("subtract"))
	s.AddTool(binaryTool("multiply", "Multiply two numbers"), binaryHandler("multiply"))
	s.AddTool(binaryTool("divide", "Divide a by b"), binaryHandler("divide"))

	s.AddTool(mcp.NewTool("arithmetic",
		mcp.WithDescription("Perform a basic arithmetic operation on two numbers"),
		mcp.WithString("operation",
			mcp.Required(),
			mcp.Description("The operation to perform"),
			mcp.Enum("add", "subtract", "multiply", "divide"),
		),
		mcp.WithNumber("a", mcp.Required(), mcp.Description("First operand")),
		mcp.WithNumber("b", mcp.Required(), mcp.Description("Second operand")),
	), handleArithmetic)

	return s
}

func binaryTool(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithNumber("a", mcp.Required(), mcp.Description("First operand")),
		mcp.WithNumber("b", mcp.Required(), mcp.Description("Second operand")),
	)
}

func binaryHandler(op string) server.ToolHandlerFunc {
	return func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return apply(op, req)
	}
}

func handleArithmetic(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	op, err := req.RequireString("operation")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return apply(op, req)
}

func apply(op string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fn, ok := operations[op]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unsupported operation %q", op)), nil
	}
	a, err := req.RequireFloat("a")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, err := req.RequireFloat("b")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	v, err := fn(a, b)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(FormatNumber(v)), nil
}

// FormatNumber renders v without a trailing ".0" for whole numbers.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
