package main

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/shanemcd/repolens/pkg/pki"
	"github.com/shanemcd/repolens/pkg/relay"
	quictransport "github.com/shanemcd/repolens/pkg/transport/quic"
)

// RelayConnection holds the QUIC connection to the relay daemon.
type RelayConnection struct {
	*relay.Client
	muxDialer *quictransport.MuxDialer
}

// ConnectToRelay prepares a client for the configured relay. The QUIC
// connection itself is established on first use.
func ConnectToRelay(cli *CLI) (*RelayConnection, error) {
	tlsConfig, err := setupClientTLS(cli, cli.Relay.Addr)
	if err != nil {
		return nil, fmt.Errorf("setup TLS: %w", err)
	}

	muxDialer := quictransport.NewMuxDialer(tlsConfig, nil)
	return &RelayConnection{
		Client:    relay.NewClient(muxDialer.Dialer(cli.Relay.Addr)),
		muxDialer: muxDialer,
	}, nil
}

// Close closes the control connection and then the QUIC connection.
func (rc *RelayConnection) Close() {
	rc.Client.Close()
	rc.muxDialer.Close()
}

func setupClientTLS(cli *CLI, relayAddr string) (*tls.Config, error) {
	paths := cli.PKIPaths("caller")

	if cli.PKI.Init {
		if !pki.CertExists(paths.CACert, paths.CAKey) {
			return nil, fmt.Errorf("CA not found at %s - run 'repolens relay --pki-init' first to create CA", paths.CACert)
		}
		if err := pki.Ensure(paths, pki.CallerIdentity(cli.identityName())); err != nil {
			return nil, fmt.Errorf("initialize PKI: %w", err)
		}
	}

	ca, cert, err := pki.Load(paths)
	if err != nil {
		return nil, err
	}

	// Extract hostname for TLS ServerName verification
	host, _, err := net.SplitHostPort(relayAddr)
	if err != nil {
		host = relayAddr
	}

	return pki.ClientTLSConfig(cert, ca, host)
}
