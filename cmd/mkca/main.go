// Command mkca generates a self-signed CA certificate and key pair for TLS
// interception. The proxy refuses to start with MITM enabled unless
// <certs_dir>/ca.crt and ca.key already exist; this is the tool that creates
// them.
package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"flag"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

const caValidity = 10 * 365 * 24 * time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	certsDir := flag.String("certs-dir", "certs", "Directory to write ca.crt and ca.key into")
	commonName := flag.String("common-name", "bsdm-proxy CA", "Subject common name for the CA certificate")
	force := flag.Bool("force", false, "Overwrite existing ca.crt/ca.key if present")
	flag.Parse()

	certPath := filepath.Join(*certsDir, "ca.crt")
	keyPath := filepath.Join(*certsDir, "ca.key")

	if !*force {
		if _, err := os.Stat(certPath); err == nil {
			return fmt.Errorf("mkca: %s already exists, pass -force to overwrite", certPath)
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("mkca: generate CA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("mkca: generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   *commonName,
			Organization: []string{"BSDM Proxy"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("mkca: self-sign CA certificate: %w", err)
	}

	if err := os.MkdirAll(*certsDir, 0o755); err != nil {
		return fmt.Errorf("mkca: create certs dir: %w", err)
	}
	if err := writePEM(certPath, "CERTIFICATE", der, 0o644); err != nil {
		return err
	}

	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("mkca: marshal CA key: %w", err)
	}
	if err := writePEM(keyPath, "EC PRIVATE KEY", keyBytes, 0o600); err != nil {
		return err
	}

	fmt.Printf("wrote %s and %s\n", certPath, keyPath)
	return nil
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("mkca: open %s: %w", path, err)
	}
	defer f.Close()

	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		return fmt.Errorf("mkca: write %s: %w", path, err)
	}
	return nil
}
