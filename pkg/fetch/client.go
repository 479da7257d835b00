package fetch

import (
	"fmt"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"aeo-audit/pkg/config"
)

// Identity is the bot's fixed network identity. It is attached by the transport, so call sites cannot vary it.
type Identity struct {
	UserAgent      string
	HeaderName     string
	HeaderValue    string
	AcceptLanguage string
}

// IdentityFromConfig builds the identity from validated config
func IdentityFromConfig(cfg config.IdentityConfig) Identity {
	return Identity{
		UserAgent:      cfg.UserAgent,
		HeaderName:     cfg.HeaderName,
		HeaderValue:    cfg.HeaderValue,
		AcceptLanguage: cfg.AcceptLanguage,
	}
}

// Headers returns every identity header except User-Agent
func (id Identity) Headers() map[string]string {
	h := make(map[string]string, 2)
	if id.HeaderName != "" {
		h[id.HeaderName] = id.HeaderValue
	}
	if id.AcceptLanguage != "" {
		h["Accept-Language"] = id.AcceptLanguage
	}
	return h
}

// Apply overwrites identity headers on req
func (id Identity) Apply(req *http.Request) {
	if id.UserAgent != "" {
		req.Header.Set("User-Agent", id.UserAgent)
	}
	for k, v := range id.Headers() {
		req.Header.Set(k, v)
	}
}

// identityTransport stamps the identity onto every request, including redirect hops
type identityTransport struct {
	base     http.RoundTripper
	identity Identity
}

func (t *identityTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	t.identity.Apply(clone)
	return t.base.RoundTrip(clone)
}

// NewClient creates the shared HTTP client. All outbound fetches in the system go through it.
func NewClient(cfg config.HTTPClientConfig, identity Identity, log *logrus.Entry) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout,
		KeepAlive: cfg.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
		MaxResponseHeaderBytes: 1 << 20,
	}
	if cfg.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *cfg.ForceAttemptHTTP2
	}

	return WrapClient(&http.Client{Timeout: cfg.Timeout, Transport: transport}, cfg.MaxRedirects, identity, log)
}

// WrapClient installs the identity transport and redirect policy on an existing client (tests pass httptest clients here).
func WrapClient(client *http.Client, maxRedirects int, identity Identity, log *logrus.Entry) *http.Client {
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if maxRedirects <= 0 {
		maxRedirects = 10
	}
	return &http.Client{
		Timeout:   client.Timeout,
		Transport: &identityTransport{base: base, identity: identity},
		Jar:       client.Jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}
}
