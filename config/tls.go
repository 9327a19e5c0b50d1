package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Enabled reports whether any TLS path is set.
func (c TLSConfig) Enabled() bool {
	return c.CACert != "" || c.NodeCert != "" || c.NodeKey != ""
}

// Load builds a mutual-TLS config in which both sides present a certificate
// signed by the CA. It returns (nil, nil) when TLS is not configured.
func (c TLSConfig) Load() (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}
	if c.CACert == "" || c.NodeCert == "" || c.NodeKey == "" {
		return nil, errors.New("tls: ca_cert, node_cert and node_key must all be set")
	}

	cert, err := tls.LoadX509KeyPair(c.NodeCert, c.NodeKey)
	if err != nil {
		return nil, fmt.Errorf("tls: load node key pair: %w", err)
	}
	caPEM, err := os.ReadFile(c.CACert)
	if err != nil {
		return nil, fmt.Errorf("tls: read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("tls: no certificate found in %s", c.CACert)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
