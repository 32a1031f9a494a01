// Package certcache mints and caches per-hostname TLS leaf certificates
// signed by a process-wide CA, for transparently terminating MITM'd CONNECT
// tunnels. Built directly on crypto/x509 and crypto/tls.
package certcache

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// leafOrganization is stamped into every minted leaf certificate's subject.
const leafOrganization = "BSDM Proxy"

// leafValidity is how long a minted leaf certificate remains valid. Once
// minted, an entry is cached for the process lifetime regardless of this
// value; it only bounds what a client that saves the cert would see.
const leafValidity = 365 * 24 * time.Hour

// CA holds the process-wide signing certificate and key used to mint leaves.
type CA struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// LoadCA reads a PEM certificate and key pair from disk.
func LoadCA(certPath, keyPath string) (*CA, error) {
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("certcache: load CA material: %w", err)
	}
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("certcache: parse CA certificate: %w", err)
	}
	key, ok := pair.PrivateKey.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("certcache: CA key is not ECDSA")
	}
	return &CA{Cert: cert, Key: key}, nil
}

// Entry is a minted leaf certificate, immutable once produced.
type Entry struct {
	Host string
	Cert *tls.Certificate
}

// Cache mints and memoizes leaf certificates by exact SNI hostname. Entries
// never expire or get evicted within the process lifetime: minting is cheap
// enough, and the cert's own expiry is the only thing that bounds its use.
type Cache struct {
	ca *CA

	mu      sync.Mutex
	entries map[string]*Entry
	// inflight deduplicates concurrent mints for the same host. Correctness
	// does not require this (minting twice for the same host is harmless
	// beyond wasted CPU), but it avoids doing so under load.
	inflight map[string]chan struct{}
}

// New creates a certificate cache backed by ca. ca may be nil only if the
// caller has already confirmed MITM is disabled; Get will then always fail.
func New(ca *CA) *Cache {
	return &Cache{
		ca:       ca,
		entries:  map[string]*Entry{},
		inflight: map[string]chan struct{}{},
	}
}

// Get returns a cached or freshly minted leaf certificate for host.
func (c *Cache) Get(host string) (*tls.Certificate, error) {
	if c.ca == nil {
		return nil, fmt.Errorf("certcache: no CA loaded, MITM unavailable")
	}

	for {
		c.mu.Lock()
		if e, ok := c.entries[host]; ok {
			c.mu.Unlock()
			return e.Cert, nil
		}
		if wait, ok := c.inflight[host]; ok {
			c.mu.Unlock()
			<-wait
			continue
		}

		done := make(chan struct{})
		c.inflight[host] = done
		c.mu.Unlock()

		cert, err := c.mint(host)

		c.mu.Lock()
		if err == nil {
			c.entries[host] = &Entry{Host: host, Cert: cert}
		}
		delete(c.inflight, host)
		c.mu.Unlock()
		close(done)

		if err != nil {
			return nil, err
		}
		return cert, nil
	}
}

// mint generates a fresh key pair and a leaf certificate for host, signed by
// the cache's CA.
func (c *Cache) mint(host string) (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("certcache: generate leaf key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("certcache: generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   host,
			Organization: []string{leafOrganization},
		},
		DNSNames:              []string{host},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(leafValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, c.ca.Cert, &key.PublicKey, c.ca.Key)
	if err != nil {
		return nil, fmt.Errorf("certcache: sign leaf for %s: %w", host, err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, c.ca.Cert.Raw},
		PrivateKey:  key,
		Leaf:        template,
	}, nil
}

// Len reports the number of minted entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
