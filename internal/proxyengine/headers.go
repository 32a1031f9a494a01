package proxyengine

import (
	"encoding/base64"
	"net"
	"net/http"
	"strings"

	"github.com/jroosing/bsdm-proxy/internal/httpcache"
)

// toCacheHeaders flattens an http.Header into the ordered, case-preserving
// representation httpcache stores. Go's http.Header loses original casing
// and ordering across multiple values for the same name; this is an accepted
// simplification since almost all proxied headers are single-valued.
func toCacheHeaders(h http.Header) []httpcache.Header {
	out := make([]httpcache.Header, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, httpcache.Header{Name: name, Value: v})
		}
	}
	return out
}

func applyCacheHeaders(dst http.Header, headers []httpcache.Header) {
	for _, h := range headers {
		dst.Add(h.Name, h.Value)
	}
}

// clientIP extracts the request's peer address. X-Forwarded-For is always
// ignored; there is no setting that marks a downstream as trusted.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// basicAuthUser decodes a Proxy-Authorization: Basic header, returning the
// username and whether one was present. Malformed headers are treated as
// absent rather than as an error, since this extraction is best-effort.
func basicAuthUser(h http.Header) (string, bool) {
	auth := h.Get("Proxy-Authorization")
	const prefix = "Basic "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(auth[len(prefix):])
	if err != nil {
		return "", false
	}
	username, _, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", false
	}
	return username, true
}
