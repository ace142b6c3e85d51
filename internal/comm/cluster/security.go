package cluster

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

var (
	ErrTLSRequired         = errors.New("cluster: tls required")
	ErrTLSCertFileRequired = errors.New("cluster: tls cert file required")
	ErrTLSKeyFileRequired  = errors.New("cluster: tls key file required")
	ErrTLSCAFileRequired   = errors.New("cluster: tls ca file required")
)

// Security configures transport security for the fabric. Every node both
// accepts connections and dials peers, so one certificate serves both roles;
// with Mutual set it must carry server and client auth usages.
type Security struct {
	Enabled            bool
	Mutual             bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Validate checks the config for a fabric node, which accepts links and
// dials them.
func (s Security) Validate() error {
	if s.Mutual && !s.Enabled {
		return ErrTLSRequired
	}
	if !s.Enabled {
		return nil
	}
	if strings.TrimSpace(s.CertFile) == "" {
		return ErrTLSCertFileRequired
	}
	if strings.TrimSpace(s.KeyFile) == "" {
		return ErrTLSKeyFileRequired
	}
	if strings.TrimSpace(s.CAFile) == "" && !s.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	if s.Mutual && strings.TrimSpace(s.CAFile) == "" {
		return ErrTLSCAFileRequired
	}
	return nil
}

// ValidateClient checks the config for a dial-only peer. A certificate is
// needed only when the workers require client auth.
func (s Security) ValidateClient() error {
	if s.Mutual && !s.Enabled {
		return ErrTLSRequired
	}
	if !s.Enabled {
		return nil
	}
	if strings.TrimSpace(s.CAFile) == "" && !s.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	if s.Mutual {
		if strings.TrimSpace(s.CertFile) == "" {
			return ErrTLSCertFileRequired
		}
		if strings.TrimSpace(s.KeyFile) == "" {
			return ErrTLSKeyFileRequired
		}
	}
	if strings.TrimSpace(s.CertFile) != "" && strings.TrimSpace(s.KeyFile) == "" {
		return ErrTLSKeyFileRequired
	}
	return nil
}

func (s Security) serverTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}
	if s.Mutual {
		pool, err := s.caPool()
		if err != nil {
			return nil, err
		}
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = pool
	}
	return cfg, nil
}

func (s Security) clientTLSConfig(addr string) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: s.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(s.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	cfg.ServerName = serverName

	if strings.TrimSpace(s.CAFile) != "" {
		pool, err := s.caPool()
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if strings.TrimSpace(s.CertFile) != "" {
		cert, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func (s Security) caPool() (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(s.CAFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(caPEM); !ok {
		return nil, fmt.Errorf("cluster: parse tls ca bundle: %s", s.CAFile)
	}
	return pool, nil
}
