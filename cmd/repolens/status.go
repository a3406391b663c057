package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"maps"
	"os"
	"slices"

	"github.com/shanemcd/repolens/pkg/control"
)

// StatusCmd gets status from the relay.
type StatusCmd struct{}

// Run executes the status command.
func (c *StatusCmd) Run(cli *CLI) error {
	log.Printf("getting status from %s", cli.Relay.Addr)

	conn, err := ConnectToRelay(cli)
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := conn.Status(context.Background())
	if err != nil {
		return fmt.Errorf("get status failed: %w", err)
	}
	printStatus(os.Stdout, resp)
	return nil
}

func printStatus(w io.Writer, resp *control.StatusResponse) {
	fmt.Fprintf(w, "Status:\n")
	fmt.Fprintf(w, "  Identity:      %s\n", resp.Identity)
	fmt.Fprintf(w, "  Phase:         %s\n", resp.Phase)
	fmt.Fprintf(w, "  Uptime:        %ds\n", resp.UptimeSeconds)
	fmt.Fprintf(w, "  Open Channels: %d\n", resp.OpenChannels)
	if len(resp.Metadata) > 0 {
		fmt.Fprintf(w, "  Metadata:\n")
		for _, k := range slices.Sorted(maps.Keys(resp.Metadata)) {
			fmt.Fprintf(w, "    %s: %s\n", k, resp.Metadata[k])
		}
	}
}
