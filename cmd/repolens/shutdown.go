package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shanemcd/repolens/pkg/control"
)

// ShutdownCmd requests the relay to shut down.
type ShutdownCmd struct {
	Force   bool   `help:"Force immediate shutdown (not graceful)"`
	Timeout int    `help:"Graceful shutdown timeout in seconds" default:"30"`
	Reason  string `help:"Reason for shutdown" default:"requested by caller"`
}

// Run executes the shutdown command.
func (c *ShutdownCmd) Run(cli *CLI) error {
	slog.Debug("requesting shutdown", "addr", cli.Relay.Addr, "force", c.Force)

	conn, err := ConnectToRelay(cli)
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := conn.Shutdown(context.Background(), control.ShutdownRequest{
		Graceful:       !c.Force,
		TimeoutSeconds: int64(c.Timeout),
		Reason:         c.Reason,
	})
	if err != nil {
		return fmt.Errorf("shutdown request failed: %w", err)
	}

	if !resp.Accepted {
		return fmt.Errorf("shutdown rejected: %s", resp.RejectionReason)
	}
	fmt.Println("shutdown accepted")
	return nil
}
