// Package transport initializes the secure socket stack the update engine
// uses once the network is live.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"net/netip"
	"os"

	"github.com/amazonlinux/bottlerocket/otaboot/pkg/config"
	"github.com/pkg/errors"
)

// Stack is the initialized socket stack the engine is started with: the
// leased address its connections bind to and the checked TLS client
// material.
type Stack struct {
	// Local is the address connections are bound to.
	Local netip.Addr
	// Scheme is the initial connection's transport scheme.
	Scheme config.Connection
	// TLS is the client configuration, nil for plain connections.
	TLS *tls.Config
}

// Init builds the socket stack for cfg's server bound to local.
func Init(local netip.Addr, cfg *config.Config) (*Stack, error) {
	if !local.IsValid() {
		return nil, errors.New("no local address to bind")
	}
	s := &Stack{
		Local:  local,
		Scheme: cfg.Server.Connection,
	}
	if !cfg.TLS() {
		return s, nil
	}
	tlsConfig, err := clientTLS(cfg.Server.Host, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	s.TLS = tlsConfig
	return s, nil
}

func clientTLS(serverName string, creds config.Credentials) (*tls.Config, error) {
	c := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}
	if creds.RootCA != "" {
		pem, err := os.ReadFile(creds.RootCA)
		if err != nil {
			return nil, errors.Wrap(err, "unable to read root CA")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificates found in root CA %s", creds.RootCA)
		}
		c.RootCAs = pool
	}
	if creds.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(creds.ClientCert, creds.ClientKey)
		if err != nil {
			return nil, errors.Wrap(err, "unable to load client certificate")
		}
		c.Certificates = []tls.Certificate{cert}
	}
	return c, nil
}
