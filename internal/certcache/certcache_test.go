package certcache

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testCA(t *testing.T) *CA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "test CA", Organization: []string{leafOrganization}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &CA{Cert: cert, Key: key}
}

func TestGetMintsAndCaches(t *testing.T) {
	c := New(testCA(t))

	cert1, err := c.Get("example.com")
	require.NoError(t, err)
	require.NotNil(t, cert1)

	cert2, err := c.Get("example.com")
	require.NoError(t, err)
	require.Same(t, cert1, cert2)
	require.Equal(t, 1, c.Len())
}

func TestGetMintsDistinctHostsIndependently(t *testing.T) {
	c := New(testCA(t))

	a, err := c.Get("a.example.com")
	require.NoError(t, err)
	b, err := c.Get("b.example.com")
	require.NoError(t, err)

	require.NotSame(t, a, b)
	require.Equal(t, 2, c.Len())
}

func TestGetWithoutCAFails(t *testing.T) {
	c := New(nil)
	_, err := c.Get("example.com")
	require.Error(t, err)
}

func TestConcurrentMintsForSameHostDeduplicate(t *testing.T) {
	c := New(testCA(t))

	var wg sync.WaitGroup
	results := make([]*ecdsa.PrivateKey, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			cert, err := c.Get("shared.example.com")
			require.NoError(t, err)
			results[idx] = cert.PrivateKey.(*ecdsa.PrivateKey)
		}(i)
	}
	wg.Wait()

	for _, k := range results[1:] {
		require.Equal(t, results[0], k)
	}
}

func TestMintedCertHasCorrectSubjectAltName(t *testing.T) {
	c := New(testCA(t))
	cert, err := c.Get("leaf.example.com")
	require.NoError(t, err)
	require.Equal(t, []string{"leaf.example.com"}, cert.Leaf.DNSNames)
}
