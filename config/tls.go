package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// TLSConfig holds PEM paths for the RPC listener. Setting ClientCA requires
// clients to present a certificate signed by it.
type TLSConfig struct {
	Cert     string `toml:"cert"`
	Key      string `toml:"key"`
	ClientCA string `toml:"client_ca"`
}

func (c TLSConfig) check() error {
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("tls: cert and key must be set together")
	}
	if c.ClientCA != "" && c.Cert == "" {
		return errors.New("tls: client_ca requires cert and key")
	}
	return nil
}

// LoadTLSConfig builds a *tls.Config from the PEM paths in cfg.
// If cfg is nil or all paths are empty it returns (nil, nil), meaning
// the caller should fall back to plain TCP.
func LoadTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil || (cfg.Cert == "" && cfg.Key == "" && cfg.ClientCA == "") {
		return nil, nil
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(cfg.Cert, cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("load cert/key: %w", err)
	}
	out := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}
	if cfg.ClientCA == "" {
		return out, nil
	}

	caPEM, err := os.ReadFile(cfg.ClientCA)
	if err != nil {
		return nil, fmt.Errorf("read client CA cert: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("failed to parse client CA certificate")
	}
	out.ClientCAs = caPool
	out.ClientAuth = tls.RequireAndVerifyClientCert
	return out, nil
}
