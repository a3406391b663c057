package main

import (
	"context"
	"fmt"
	"log"
)

// PingCmd sends a ping to the relay.
type PingCmd struct{}

// Run executes the ping command.
func (c *PingCmd) Run(cli *CLI) error {
	log.Printf("pinging %s", cli.Relay.Addr)

	conn, err := ConnectToRelay(cli)
	if err != nil {
		return err
	}
	defer conn.Close()

	rtt, err := conn.Ping(context.Background())
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	fmt.Printf("pong: rtt=%v\n", rtt)
	return nil
}
