package httpserver

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/caddyserver/certmagic"

	"github.com/folkertvanheusden/termcamng/pkg/termerr"
)

// TLSConfig selects how the HTTPS listener obtains its certificate.
// The primary path (KeyPath/CertPath set from the https-key/https-
// certificate config keys) uses stdlib crypto/tls directly; CertMagic
// is an alternate source for operators who want an ACME-managed
// certificate for a public Domain instead of static files.
type TLSConfig struct {
	CertPath string
	KeyPath  string
	Domain   string // from https-acme-domain; non-empty selects CertMagic instead of CertPath/KeyPath
}

// Listen wraps a plain TCP listener on addr in TLS per cfg.
func Listen(addr string, cfg TLSConfig) (net.Listener, error) {
	tlsCfg, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	ln, err := tls.Listen("tcp", addr, tlsCfg)
	if err != nil {
		return nil, termerr.Wrap(termerr.ErrBindFailed, "https listen "+addr, err)
	}
	return ln, nil
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	if cfg.Domain != "" {
		return certmagic.TLS([]string{cfg.Domain})
	}
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		return nil, termerr.New(termerr.ErrKeyLoad, "https-key/https-certificate not configured")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, termerr.Wrap(termerr.ErrKeyLoad, fmt.Sprintf("load cert %s/%s", cfg.CertPath, cfg.KeyPath), err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
