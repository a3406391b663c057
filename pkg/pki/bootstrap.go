package pki

import (
	"fmt"
	"log/slog"
	"os"
)

// Paths locates the CA and leaf files for one side of the relay link.
type Paths struct {
	Dir    string
	CACert string
	CAKey  string
	Cert   string
	Key    string
}

// Ensure creates the CA under p.Dir when it is missing, then issues a leaf
// certificate for identity unless one already exists. Both the relay and
// its callers share the CA, so every leaf is usable as client and server.
func Ensure(p Paths, identity string) error {
	if err := os.MkdirAll(p.Dir, 0700); err != nil {
		return fmt.Errorf("create PKI directory: %w", err)
	}

	var ca *CA
	var err error
	if CertExists(p.CACert, p.CAKey) {
		ca, err = LoadCA(p.CACert, p.CAKey)
		if err != nil {
			return fmt.Errorf("load existing CA: %w", err)
		}
	} else {
		slog.Info("generating new CA", "dir", p.Dir)
		ca, err = GenerateCA()
		if err != nil {
			return fmt.Errorf("generate CA: %w", err)
		}
		if err := writePair(p.CACert, p.CAKey, ca.Cert, ca.Key); err != nil {
			return fmt.Errorf("save CA: %w", err)
		}
	}

	if CertExists(p.Cert, p.Key) {
		slog.Debug("certificate already exists", "cert", p.Cert)
		return nil
	}

	slog.Info("generating certificate", "identity", identity)
	cert, err := GenerateCert(ca, identity, true, true)
	if err != nil {
		return fmt.Errorf("generate cert: %w", err)
	}
	if err := cert.Save(p.Cert, p.Key); err != nil {
		return fmt.Errorf("save cert: %w", err)
	}
	return nil
}

// Load reads the CA and leaf certificate named by p.
func Load(p Paths) (*CA, *Cert, error) {
	ca, err := LoadCA(p.CACert, p.CAKey)
	if err != nil {
		return nil, nil, fmt.Errorf("load CA (try --pki-init to generate): %w", err)
	}
	cert, err := LoadCert(p.Cert, p.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("load cert (try --pki-init to generate): %w", err)
	}
	return ca, cert, nil
}
