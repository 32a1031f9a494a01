package cachekey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintPureFunction(t *testing.T) {
	a := Fingerprint("GET", "http://Example.com:80/path?q=1")
	b := Fingerprint("get", "HTTP://example.com/path?q=1")
	assert.Equal(t, a, b)
}

func TestFingerprintDiffersOnPath(t *testing.T) {
	a := Fingerprint("GET", "http://example.com/a")
	b := Fingerprint("GET", "http://example.com/b")
	assert.NotEqual(t, a, b)
}

func TestFingerprintDiffersOnMethod(t *testing.T) {
	a := Fingerprint("GET", "http://example.com/a")
	b := Fingerprint("POST", "http://example.com/a")
	assert.NotEqual(t, a, b)
}

func TestNormalizeStripsDefaultPort(t *testing.T) {
	assert.Equal(t, "http://example.com/x", Normalize("http://example.com:80/x"))
	assert.Equal(t, "https://example.com/x", Normalize("https://example.com:443/x"))
	assert.Equal(t, "https://example.com:8443/x", Normalize("https://example.com:8443/x"))
}

func TestCacheable(t *testing.T) {
	assert.True(t, Cacheable("GET"))
	assert.True(t, Cacheable("head"))
	assert.False(t, Cacheable("POST"))
	assert.False(t, Cacheable("CONNECT"))
}
