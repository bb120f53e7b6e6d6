package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// tlsConfigName is the name used to register custom TLS configs with the MySQL driver.
const tlsConfigName = "crm-approvals-mirror"

// MirrorDSN returns the mirror's data source name. DSN wins over the
// discrete fields; the TLS mode is applied unless the DSN already sets one.
func (m *SQLMirrorConfig) MirrorDSN() (string, error) {
	var cfg *mysql.Config
	if strings.TrimSpace(m.DSN) != "" {
		parsed, err := mysql.ParseDSN(m.DSN)
		if err != nil {
			return "", fmt.Errorf("platform.sqlmirror.dsn is invalid: %w", err)
		}
		cfg = parsed
	} else {
		cfg = mysql.NewConfig()
		cfg.User = m.User
		cfg.Passwd = m.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
		cfg.DBName = m.Database
	}

	if cfg.TLSConfig == "" {
		cfg.TLSConfig = m.tlsParam()
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// EffectiveDatabase is the schema the mirror describes, from database or the DSN.
func (m *SQLMirrorConfig) EffectiveDatabase() (string, error) {
	configured := strings.TrimSpace(m.Database)
	var fromDSN string
	if strings.TrimSpace(m.DSN) != "" {
		parsed, err := mysql.ParseDSN(m.DSN)
		if err != nil {
			return "", fmt.Errorf("platform.sqlmirror.dsn is invalid: %w", err)
		}
		fromDSN = strings.TrimSpace(parsed.DBName)
	}

	switch {
	case configured != "" && fromDSN != "" && configured != fromDSN:
		return "", fmt.Errorf("database mismatch: platform.sqlmirror.database=%q but platform.sqlmirror.dsn targets %q", configured, fromDSN)
	case configured != "":
		return configured, nil
	case fromDSN != "":
		return fromDSN, nil
	default:
		return "", errors.New("no mirror database configured")
	}
}

func (m *SQLMirrorConfig) tlsParam() string {
	switch m.TLS.Mode {
	case "":
		return ""
	case "off":
		return "false"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		return m.TLS.Mode
	}
}

// RegisterTLS registers the custom TLS configuration with the MySQL driver.
// It must run before the mirror is opened in verify-ca or verify-full mode.
func (m *SQLMirrorConfig) RegisterTLS() error {
	if m.TLS.Mode != "verify-ca" && m.TLS.Mode != "verify-full" {
		return nil
	}

	tlsCfg, err := m.TLS.build()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}
	return nil
}

func (t *DatabaseTLSConfig) build() (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if t.CAFile != "" {
		caCert, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", t.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", t.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	switch {
	case t.CertFile != "" && t.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	case t.CertFile != "" || t.KeyFile != "":
		return nil, errors.New("both cert_file and key_file must be specified for client certificate authentication")
	}

	if t.Mode == "verify-ca" {
		// Chain verification only: the mirror is often reached through an
		// address that is not in its certificate.
		pool := tlsCfg.RootCAs
		tlsCfg.InsecureSkipVerify = true
		tlsCfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyChain(rawCerts, pool)
		}
	} else if t.ServerName != "" {
		tlsCfg.ServerName = t.ServerName
	}
	return tlsCfg, nil
}

func verifyChain(rawCerts [][]byte, roots *x509.CertPool) error {
	if len(rawCerts) == 0 {
		return errors.New("mirror presented no certificate")
	}
	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("parse mirror certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	_, err := certs[0].Verify(x509.VerifyOptions{Roots: roots, Intermediates: intermediates})
	return err
}
