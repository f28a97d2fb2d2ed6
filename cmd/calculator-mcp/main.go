// Command calculator-mcp serves the arithmetic tools over stdio so any MCP
// client can launch it as a tool server.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"ollama-mcp-agents/internal/adapter/toolprovider/calculator"
)

func main() {
	if err := server.ServeStdio(calculator.NewServer()); err != nil {
		fmt.Fprintf(os.Stderr, "calculator-mcp: %v\n", err)
		os.Exit(1)
	}
}
