package cmd

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/quic-go/quic-go/http3"
)

// newHTTPClient returns a client for the control API, over QUIC when useHTTP3 is set.
func newHTTPClient(useHTTP3, insecure bool, timeout time.Duration) *http.Client {
	client := &http.Client{Timeout: timeout}
	tlsConfig := &tls.Config{InsecureSkipVerify: insecure}
	if useHTTP3 {
		client.Transport = &http3.RoundTripper{TLSClientConfig: tlsConfig}
	} else if insecure {
		client.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}
	return client
}
