package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/shepherd/internal/rpc"
	"github.com/ShayCichocki/shepherd/internal/tools"
	"github.com/ShayCichocki/shepherd/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve task and process procedures over stdin/stdout",
	Long: `Serve task and process procedures as MCP tools on stdin and stdout.
Diagnostics go to stderr.

Workers reach it as an MCP stdio server. Register it with the worker CLI, for
example in .mcp.json:

  {"mcpServers": {"shepherd": {"command": "shepherd", "args": ["serve"]}}}

Loops export SHEPHERD_PROJECT to their workers, so a server started from inside
a task workspace still operates on the main project's state.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

const serveInstructions = `Tasks move todo -> analysing -> analysed -> in-progress -> done.
Send process_heartbeat while working. Block on a decision with task_ask_question
and on an oversized task with task_propose_split. Stop when a heartbeat reports
that your process was terminated.`

func runServe(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	// stdout carries the protocol.
	log.SetOutput(os.Stderr)

	registry, err := tools.NewRegistry(tools.Deps{Store: p.store, Supervisor: p.supervisor})
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}
	server := rpc.NewServer(registry, rpc.Options{
		Name:         "shepherd",
		Version:      version.Get(),
		Instructions: serveInstructions,
		KeepAlive:    p.cfg.RPC.KeepAlive,
	})
	log.Printf("[serve] %d procedures for %s", registry.Len(), p.paths.RepoRoot)

	err = server.Serve(cmd.Context(), &mcp.StdioTransport{})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
