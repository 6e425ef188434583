package identity

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

var errNoCertificate = errors.New("identity: no trust certificate configured")

// loadCertificates accepts a PEM block, a path to a PEM file, or bare base64 DER as found in
// IdP metadata.
func loadCertificates(source string) ([]*x509.Certificate, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, errNoCertificate
	}

	data := []byte(source)
	if !strings.Contains(source, "-----BEGIN") {
		if raw, err := os.ReadFile(source); err == nil {
			data = raw
		} else if der, derr := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(source), "")); derr == nil {
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return nil, fmt.Errorf("identity: parsing certificate: %w", err)
			}
			return []*x509.Certificate{cert}, nil
		} else {
			return nil, fmt.Errorf("identity: reading certificate %s: %w", source, err)
		}
	}

	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("identity: parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, errNoCertificate
	}
	return certs, nil
}
