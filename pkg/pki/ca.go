// Package pki issues the certificates that authenticate a repolens relay
// and its callers to each other.
package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"path/filepath"
	"time"
)

// CA represents a certificate authority.
type CA struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// GenerateCA creates a new self-signed certificate authority valid for ten
// years.
func GenerateCA() (*CA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := newSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Repolens"},
			CommonName:   "Repolens Relay CA",
		},
		NotBefore:             now,
		NotAfter:              now.AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	return &CA{Cert: cert, Key: key}, nil
}

// LoadCA loads a CA from certificate and key files.
func LoadCA(certPath, keyPath string) (*CA, error) {
	cert, key, err := readPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	return &CA{Cert: cert, Key: key}, nil
}

// Save writes ca.crt and ca.key into dir.
func (ca *CA) Save(dir string) error {
	return writePair(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"), ca.Cert, ca.Key)
}

// CAExists reports whether dir holds both CA files.
func CAExists(dir string) bool {
	return exists(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"))
}

// LoadCAFromDir loads a CA from the standard paths in a directory.
func LoadCAFromDir(dir string) (*CA, error) {
	return LoadCA(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"))
}

func newSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	return serial, nil
}
