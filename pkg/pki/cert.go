package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Cert is a leaf certificate and its private key.
type Cert struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// GenerateCert issues a one-year leaf certificate for identity. isServer and
// isClient select the extended key usages. The relay only listens locally,
// so every leaf is valid for localhost and the loopback addresses.
func GenerateCert(ca *CA, identity string, isServer, isClient bool) (*Cert, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := newSerial()
	if err != nil {
		return nil, err
	}

	identityURI, err := url.Parse(identity)
	if err != nil {
		return nil, fmt.Errorf("parse identity URI: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Repolens"},
			CommonName:   identity,
		},
		NotBefore:   now,
		NotAfter:    now.AddDate(1, 0, 0),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: extKeyUsage(isServer, isClient),
		URIs:        []*url.URL{identityURI},
		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.Cert, &key.PublicKey, ca.Key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	return &Cert{Cert: cert, Key: key}, nil
}

func extKeyUsage(isServer, isClient bool) []x509.ExtKeyUsage {
	var usages []x509.ExtKeyUsage
	if isServer {
		usages = append(usages, x509.ExtKeyUsageServerAuth)
	}
	if isClient {
		usages = append(usages, x509.ExtKeyUsageClientAuth)
	}
	return usages
}

// LoadCert loads a certificate and key from files.
func LoadCert(certPath, keyPath string) (*Cert, error) {
	cert, key, err := readPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	return &Cert{Cert: cert, Key: key}, nil
}

// Save persists the certificate and key to files.
func (c *Cert) Save(certPath, keyPath string) error {
	return writePair(certPath, keyPath, c.Cert, c.Key)
}

// TLSCertificate returns a tls.Certificate for use with TLS configs.
func (c *Cert) TLSCertificate() (tls.Certificate, error) {
	certPEM, keyPEM, err := encodePair(c.Cert, c.Key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}

// CertExists checks if certificate files exist.
func CertExists(certPath, keyPath string) bool {
	return exists(certPath, keyPath)
}
