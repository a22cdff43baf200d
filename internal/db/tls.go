package db

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vvka-141/crdb/pkg/crdb"
)

// TLSMaterial is certificate material read from the paths in an SSLConfig.
type TLSMaterial struct {
	RootCA []byte
	Cert   []byte
	Key    []byte
}

// LoadTLSMaterial reads every file named in ssl. Missing paths leave the
// corresponding field nil.
func LoadTLSMaterial(ssl crdb.SSLConfig) (*TLSMaterial, error) {
	m := &TLSMaterial{}
	for _, f := range []struct {
		name string
		path string
		dst  *[]byte
	}{
		{"sslrootcert", ssl.RootCert, &m.RootCA},
		{"sslcert", ssl.Cert, &m.Cert},
		{"sslkey", ssl.Key, &m.Key},
	} {
		if f.path == "" {
			continue
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			return nil, fmt.Errorf("read %s %q: %w", f.name, f.path, err)
		}
		*f.dst = data
	}
	return m, nil
}

// NewTLSConfig builds the client TLS configuration for host from ssl, following
// libpq sslmode semantics. It returns nil for sslmode=disable.
func NewTLSConfig(ssl crdb.SSLConfig, host string) (*tls.Config, error) {
	if ssl.Mode == "disable" {
		return nil, nil
	}

	material, err := LoadTLSMaterial(ssl)
	if err != nil {
		return nil, err
	}
	return material.tlsConfig(ssl.Mode, host)
}

func (m *TLSMaterial) tlsConfig(mode, host string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	var roots *x509.CertPool
	if len(m.RootCA) > 0 {
		roots = x509.NewCertPool()
		if !roots.AppendCertsFromPEM(m.RootCA) {
			return nil, fmt.Errorf("sslrootcert contains no PEM certificates: %w", crdb.ErrInvalidConfig)
		}
	}

	// libpq treats require with a root certificate as verify-ca
	if mode == "require" && roots != nil {
		mode = "verify-ca"
	}

	switch mode {
	case "", "allow", "prefer", "require":
		cfg.InsecureSkipVerify = true
	case "verify-ca":
		if roots == nil {
			return nil, fmt.Errorf("sslmode=verify-ca requires sslrootcert: %w", crdb.ErrInvalidConfig)
		}
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = verifyChain(roots)
	case "verify-full":
		cfg.ServerName = host
		cfg.RootCAs = roots
	default:
		return nil, fmt.Errorf("unsupported sslmode %q: %w", mode, crdb.ErrInvalidConfig)
	}

	switch {
	case len(m.Cert) > 0 && len(m.Key) > 0:
		pair, err := tls.X509KeyPair(m.Cert, m.Key)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	case len(m.Cert) > 0 || len(m.Key) > 0:
		return nil, fmt.Errorf("sslcert and sslkey must be provided together: %w", crdb.ErrInvalidConfig)
	}

	return cfg, nil
}

// verifyChain checks the server chain against roots without matching the host name.
func verifyChain(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("server presented no certificate")
		}
		certs := make([]*x509.Certificate, len(rawCerts))
		for i, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("parse server certificate: %w", err)
			}
			certs[i] = cert
		}
		opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
		for _, cert := range certs[1:] {
			opts.Intermediates.AddCert(cert)
		}
		_, err := certs[0].Verify(opts)
		return err
	}
}

// applyTLS attaches tlsCfg to cc and to every fallback that would use TLS.
func applyTLS(cc *pgconn.Config, tlsCfg *tls.Config) {
	if tlsCfg == nil {
		return
	}
	cc.TLSConfig = tlsCfg
	for _, fb := range cc.Fallbacks {
		if fb.TLSConfig != nil {
			fb.TLSConfig = tlsCfg
		}
	}
}
