package pki

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// ALPN is the application protocol negotiated on relay connections.
const ALPN = "repolens-relay"

// ServerTLSConfig creates the relay's TLS config. Callers must present a
// certificate signed by ca.
func ServerTLSConfig(cert *Cert, ca *CA) (*tls.Config, error) {
	tlsCert, err := cert.TLSCertificate()
	if err != nil {
		return nil, fmt.Errorf("create TLS certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    caPool(ca),
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientTLSConfig creates a caller's TLS config. serverName must match the
// relay certificate (normally "localhost").
func ClientTLSConfig(cert *Cert, ca *CA, serverName string) (*tls.Config, error) {
	tlsCert, err := cert.TLSCertificate()
	if err != nil {
		return nil, fmt.Errorf("create TLS certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		RootCAs:      caPool(ca),
		ServerName:   serverName,
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func caPool(ca *CA) *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(ca.Cert)
	return pool
}
