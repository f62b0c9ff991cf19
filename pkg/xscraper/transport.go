package xscraper

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"

	fhttp "github.com/bogdanfinn/fhttp"
	tlsclient "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// Doer abstracts the HTTP transport so tests can hit httptest servers with a
// plain net/http client while production uses a browser-impersonating one.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Browser user agents matching the impersonated TLS profile.
var uaProfiles = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
}

// randomUserAgent picks one UA string for the lifetime of a client.
func randomUserAgent() string {
	return uaProfiles[rand.Intn(len(uaProfiles))]
}

// tlsTransport adapts a chrome-fingerprint tls-client to the Doer interface,
// keeping net/http types at the package boundary.
type tlsTransport struct {
	client tlsclient.HttpClient
}

// NewTLSTransport builds a transport that presents a Chrome TLS fingerprint.
func NewTLSTransport(timeoutSeconds int) (Doer, error) {
	client, err := tlsclient.NewHttpClient(tlsclient.NewNoopLogger(),
		tlsclient.WithTimeoutSeconds(timeoutSeconds),
		tlsclient.WithClientProfile(profiles.Chrome_131),
		tlsclient.WithNotFollowRedirects(),
	)
	if err != nil {
		return nil, fmt.Errorf("build tls client: %w", err)
	}
	return &tlsTransport{client: client}, nil
}

func (t *tlsTransport) Do(req *http.Request) (*http.Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = req.Body
	}
	freq, err := fhttp.NewRequestWithContext(req.Context(), req.Method, req.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build impersonated request: %w", err)
	}
	for name, values := range req.Header {
		for _, v := range values {
			freq.Header.Add(name, v)
		}
	}

	fresp, err := t.client.Do(freq)
	if err != nil {
		return nil, err
	}
	return &http.Response{
		Status:        fresp.Status,
		StatusCode:    fresp.StatusCode,
		Proto:         fresp.Proto,
		Header:        http.Header(fresp.Header),
		Body:          fresp.Body,
		ContentLength: fresp.ContentLength,
		Request:       req,
	}, nil
}
