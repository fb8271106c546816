package provider

import (
	"net"
	"net/http"
	"time"
)

// sharedTransport pools connections across both backends. It sets no
// response-header timeout because a model pull only answers once the
// download has finished; deadlines come from the request context instead.
var sharedTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        20,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// SharedHTTPClient returns a client on the shared pooled transport.
// A zero timeout leaves the deadline to the caller's context.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport,
	}
}
