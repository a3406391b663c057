package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/shanemcd/repolens/pkg/control"
	"github.com/shanemcd/repolens/pkg/pki"
	"github.com/shanemcd/repolens/pkg/relay"
	quictransport "github.com/shanemcd/repolens/pkg/transport/quic"
)

// RelayCmd runs the relay daemon: the privileged peer that performs local
// network requests on behalf of callers.
type RelayCmd struct {
	MaxFetchBody int64 `help:"Maximum relayed response body in bytes" default:"10485760"`
}

// Run executes the relay command.
func (c *RelayCmd) Run(cli *CLI) error {
	log.Printf("repolens relay starting on %s", cli.Relay.Addr)

	tlsConfig, identity, err := setupRelayTLS(cli)
	if err != nil {
		return fmt.Errorf("setup TLS: %w", err)
	}

	listener, err := quictransport.ListenMux(cli.Relay.Addr, tlsConfig, nil)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	d := newDaemon(daemonConfig{
		listener:     listener,
		identity:     identity,
		httpClient:   &http.Client{},
		maxFetchBody: c.MaxFetchBody,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		log.Println("received shutdown signal, draining (signal again to force)")
		go d.triggerShutdown(true, 30*time.Second, "signal")
		<-sigChan
		d.triggerShutdown(false, 0, "second signal")
		d.controlServer.Stop()
	}()

	if err := d.run(); err != nil {
		return fmt.Errorf("relay error: %w", err)
	}

	log.Println("repolens relay stopped")
	return nil
}

// muxListener is the part of the QUIC listener the daemon uses.
type muxListener interface {
	Listener(quictransport.StreamType) net.Listener
	Errors() <-chan error
	Addr() net.Addr
	Close() error
}

// daemon encapsulates the relay's runtime components.
type daemon struct {
	listener      muxListener
	peer          *relay.Peer
	state         *control.State
	controlServer *grpc.Server

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

type daemonConfig struct {
	listener     muxListener
	identity     string
	httpClient   *http.Client
	maxFetchBody int64
}

func newDaemon(cfg daemonConfig) *daemon {
	ctx, cancel := context.WithCancel(context.Background())

	d := &daemon{
		listener:      cfg.listener,
		state:         control.NewState(cfg.identity),
		controlServer: grpc.NewServer(),
		ctx:           ctx,
		cancel:        cancel,
	}
	d.state.SetMetadata("addr", cfg.listener.Addr().String())

	d.peer = relay.NewPeer(relay.PeerConfig{
		HTTPClient:   cfg.httpClient,
		MaxFetchBody: cfg.maxFetchBody,
		State:        d.state,
	})
	control.RegisterControlServer(d.controlServer, control.NewServer(d.state, d.triggerShutdown))
	return d
}

// controlStopTimeout bounds how long in-flight control calls may finish
// before the control server is stopped hard.
const controlStopTimeout = 5 * time.Second

// run serves until shutdown, then closes the listener. Control streams are
// served by gRPC, every other stream type by the peer.
func (d *daemon) run() error {
	listeners := map[quictransport.StreamType]net.Listener{
		quictransport.StreamTypeFetch: d.listener.Listener(quictransport.StreamTypeFetch),
		quictransport.StreamTypeChat:  d.listener.Listener(quictransport.StreamTypeChat),
	}
	controlListener := d.listener.Listener(quictransport.StreamTypeControl)

	d.state.SetReady()
	log.Printf("ready, listening on %s (QUIC)", d.listener.Addr())
	log.Printf("  control stream: 0x%02x", quictransport.StreamTypeControl)
	log.Printf("  fetch stream:   0x%02x", quictransport.StreamTypeFetch)
	log.Printf("  chat stream:    0x%02x", quictransport.StreamTypeChat)

	go func() {
		for {
			select {
			case err := <-d.listener.Errors():
				log.Printf("listener error: %v", err)
			case <-d.ctx.Done():
				return
			}
		}
	}()

	controlDone := make(chan struct{})
	go func() {
		defer close(controlDone)
		if err := d.controlServer.Serve(controlListener); err != nil && d.ctx.Err() == nil {
			log.Printf("control server: %v", err)
			d.stopOnce.Do(d.cancel)
		}
	}()

	err := d.peer.Serve(d.ctx, listeners)
	// The listener must close before GracefulStop or it waits forever.
	d.listener.Close()
	d.stopControl()
	<-controlDone
	d.state.SetStopped()
	return err
}

// stopControl lets in-flight control calls finish, then forces the server
// down after controlStopTimeout.
func (d *daemon) stopControl() {
	stopped := make(chan struct{})
	go func() {
		d.controlServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(controlStopTimeout):
		log.Println("control server did not stop in time, forcing")
		d.controlServer.Stop()
		<-stopped
	}
}

// triggerShutdown drains open Channels for up to timeout when graceful, then
// stops the peer. Channels still open at that point are aborted.
func (d *daemon) triggerShutdown(graceful bool, timeout time.Duration, reason string) {
	log.Printf("shutdown requested: graceful=%v, timeout=%v, reason=%q", graceful, timeout, reason)

	d.state.SetDraining()

	if graceful {
		d.drain(timeout)
	}
	d.stopOnce.Do(d.cancel)
}

func (d *daemon) drain(timeout time.Duration) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for d.state.OpenChannels() > 0 {
		select {
		case <-ticker.C:
		case <-deadline:
			log.Printf("graceful shutdown timeout exceeded, aborting %d open channels", d.state.OpenChannels())
			return
		case <-d.ctx.Done():
			return
		}
	}
}

func setupRelayTLS(cli *CLI) (*tls.Config, string, error) {
	paths := cli.PKIPaths("relay")
	identity := pki.RelayIdentity(cli.identityName())

	if cli.PKI.Init {
		if err := pki.Ensure(paths, identity); err != nil {
			return nil, "", fmt.Errorf("initialize PKI: %w", err)
		}
	}

	ca, cert, err := pki.Load(paths)
	if err != nil {
		return nil, "", err
	}
	if uris := cert.Cert.URIs; len(uris) > 0 {
		identity = uris[0].String()
	}

	tlsConfig, err := pki.ServerTLSConfig(cert, ca)
	if err != nil {
		return nil, "", err
	}
	return tlsConfig, identity, nil
}
