// Package cachekey derives the cache fingerprint from a request's method and
// target URL, independent of headers or body.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// cacheableMethods is the set of HTTP methods with no semantically
// significant request body, per the admission rule in the response cache.
var cacheableMethods = map[string]bool{
	"GET":  true,
	"HEAD": true,
}

// Cacheable reports whether method is eligible for caching at all.
func Cacheable(method string) bool {
	return cacheableMethods[strings.ToUpper(method)]
}

// Normalize lowercases the scheme and host, strips a default port for the
// scheme, and leaves path and query untouched.
func Normalize(rawURL string) string {
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return rawURL
	}
	scheme = strings.ToLower(scheme)

	hostAndPath := rest
	host := hostAndPath
	path := ""
	if idx := strings.IndexAny(hostAndPath, "/?#"); idx >= 0 {
		host = hostAndPath[:idx]
		path = hostAndPath[idx:]
	}
	host = strings.ToLower(host)
	host = stripDefaultPort(scheme, host)

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)
	return b.String()
}

func stripDefaultPort(scheme, host string) string {
	h, port, ok := strings.Cut(host, ":")
	if !ok {
		return host
	}
	switch {
	case scheme == "http" && port == "80":
		return h
	case scheme == "https" && port == "443":
		return h
	default:
		return host
	}
}

// Fingerprint returns the hex-encoded cache key for a method + URL pair. It
// is a pure function: equal (method, normalized URL) pairs always produce
// the same fingerprint.
func Fingerprint(method, rawURL string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(method) + " " + Normalize(rawURL)))
	return hex.EncodeToString(sum[:])
}
