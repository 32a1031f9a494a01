package proxyengine

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"
)

// parentProxyKey carries the dial address of a parent or sibling peer
// through the request context into the shared transport's Proxy hook. The
// hook is the only place that sees both the request and this value, since
// http.Transport invokes it per-request on a client shared across targets.
type parentProxyKey struct{}

// withParentProxy attaches addr ("host:port") as the proxy this request
// should be routed through. Forwarding to a parent or sibling means sending
// an absolute-URI request line to addr over plain HTTP, exactly as a
// forward proxy receives requests from its own downstream clients. The
// request's URL stays the absolute origin URL throughout.
func withParentProxy(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, parentProxyKey{}, addr)
}

func parentProxyFromContext(req *http.Request) (*url.URL, error) {
	addr, ok := req.Context().Value(parentProxyKey{}).(string)
	if !ok || addr == "" {
		return nil, nil
	}
	return &url.URL{Scheme: "http", Host: addr}, nil
}

// newUpstreamClient builds the HTTP client used for origin/parent/sibling
// fetches. Connections are pooled per host. The Proxy hook reads the
// chosen peer address (if any) off the
// request's context so a single client/transport serves both direct origin
// fetches and hierarchy-routed ones.
func newUpstreamClient(insecureTLS bool) *http.Client {
	transport := &http.Transport{
		Proxy: parentProxyFromContext,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        1024,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
	}
	return &http.Client{
		Transport: transport,
		// Proxying must see upstream redirects as ordinary responses to
		// cache and relay, not follow them transparently.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
