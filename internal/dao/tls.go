package dao

import (
	"crypto/tls"
	"crypto/x509"
)

// TLSConfig returns the client TLS configuration, or nil when SSL is off.
// Without a CA certificate the server certificate is not verified, matching
// the sslmode=require behavior of the SQL engines. The tls_server_name
// option sets the verified name for tunneled connections, whose host is the
// local tunnel end.
func (p ConnectionParams) TLSConfig() (*tls.Config, error) {
	if !p.SSL {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if p.Cert == "" {
		cfg.InsecureSkipVerify = true
		return cfg, nil
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(p.Cert)) {
		return nil, Validationf("failed to parse CA certificate")
	}
	cfg.RootCAs = pool
	cfg.ServerName = p.Option("tls_server_name", p.Host)
	return cfg, nil
}
