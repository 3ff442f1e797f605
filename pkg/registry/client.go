// SPDX-License-Identifier: MPL-2.0

// Package registry is a read-only client for the collection registry REST
// API (v2). Requests are retried with exponential backoff, guarded by a
// per-host circuit breaker and dialled through a caching DNS resolver.
package registry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenk/backoff"
	"github.com/charmbracelet/log"
	"github.com/rs/dnscache"
)

const (
	// DefaultServerURL is the public registry.
	DefaultServerURL = "https://galaxy.ansible.com"

	defaultUserAgent  = "stowage/dev"
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3
	defaultBaseDelay  = 500 * time.Millisecond
	defaultPageSize   = 100

	// maxPages bounds version-list pagination.
	maxPages = 100

	// maxJSONResponseBytes bounds decoded API responses (10 MB).
	maxJSONResponseBytes = 10 << 20
	// maxErrorBodyBytes bounds the body read from a failed response.
	maxErrorBodyBytes = 64 << 10
)

type (
	// Client talks to one registry server.
	Client struct {
		baseURL    *url.URL
		httpClient *http.Client
		userAgent  string
		token      string
		maxRetries int
		baseDelay  time.Duration
		timeout    time.Duration
		insecure   bool
		pageSize   int
		logger     *log.Logger
		breakers   *breakers
	}

	// Option configures a Client.
	Option func(*Client)
)

// WithHTTPClient replaces the default transport entirely; the timeout, TLS
// and DNS options are then ignored.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithToken sets the API token sent as "Authorization: Token <token>" to
// the registry host.
func WithToken(token string) Option {
	return func(cl *Client) {
		cl.token = token
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// WithMaxRetries sets how many times a failed request is retried.
func WithMaxRetries(n int) Option {
	return func(cl *Client) {
		cl.maxRetries = max(n, 0)
	}
}

// WithBaseDelay sets the first retry interval.
func WithBaseDelay(d time.Duration) Option {
	return func(cl *Client) {
		cl.baseDelay = d
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.timeout = d
	}
}

// WithInsecureSkipVerify disables TLS certificate validation.
func WithInsecureSkipVerify(skip bool) Option {
	return func(cl *Client) {
		cl.insecure = skip
	}
}

// WithPageSize sets the page_size requested when listing versions.
func WithPageSize(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.pageSize = n
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *log.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// New returns a Client for the registry at serverURL. An empty serverURL
// selects DefaultServerURL. A trailing "/api" or "/api/" on serverURL is
// accepted and ignored.
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	base, err := url.Parse(strings.TrimSuffix(strings.TrimRight(serverURL, "/"), "/api"))
	if err != nil {
		return nil, fmt.Errorf("invalid registry URL %q: %w", serverURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid registry URL %q: scheme must be http or https", serverURL)
	}

	c := &Client{
		baseURL:    base,
		userAgent:  defaultUserAgent,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		timeout:    defaultTimeout,
		pageSize:   defaultPageSize,
		logger:     log.New(io.Discard),
		breakers:   newBreakers(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newHTTPClient(c.timeout, c.insecure)
	}
	return c, nil
}

// newHTTPClient builds a client whose dialer resolves hosts through a
// dnscache.Resolver and tries every resolved address in turn.
func newHTTPClient(timeout time.Duration, insecure bool) *http.Client {
	resolver := &dnscache.Resolver{}
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				ips, err := resolver.LookupHost(ctx, host)
				if err != nil {
					return nil, err
				}
				var lastErr error
				for _, ip := range ips {
					conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
					if err == nil {
						return conn, nil
					}
					lastErr = err
				}
				if lastErr == nil {
					lastErr = fmt.Errorf("no addresses for %s", host)
				}
				return nil, lastErr
			},
			TLSClientConfig:       &tls.Config{InsecureSkipVerify: insecure}, //nolint:gosec // opt-in via --ignore-certs
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// ServerURL returns the registry base URL.
func (c *Client) ServerURL() string { return c.baseURL.String() }

// GetCollection returns the registry entry of namespace.name.
func (c *Client) GetCollection(ctx context.Context, namespace, name string) (*Collection, error) {
	var w wireCollection
	if err := c.getJSON(ctx, c.collectionURL(namespace, name), &w); err != nil {
		return nil, err
	}
	col := &Collection{
		Namespace:   w.Namespace.Name,
		Name:        w.Name,
		Href:        w.Href,
		VersionsURL: w.VersionsURL,
		Deprecated:  w.Deprecated,
	}
	if col.Namespace == "" {
		col.Namespace = namespace
	}
	if col.Name == "" {
		col.Name = name
	}
	if w.LatestVersion != nil {
		col.LatestVersion = &VersionRef{Version: w.LatestVersion.Version, Href: w.LatestVersion.Href}
	}
	return col, nil
}

// ListVersions returns every published version of namespace.name in the
// order the registry lists them, following "next" links.
func (c *Client) ListVersions(ctx context.Context, namespace, name string) ([]VersionRef, error) {
	next := c.collectionURL(namespace, name) + fmt.Sprintf("versions/?page_size=%d", c.pageSize)
	var out []VersionRef
	for page := 0; next != ""; page++ {
		if page == maxPages {
			c.logger.Warn("version list truncated", "collection", namespace+"."+name, "pages", maxPages)
			break
		}
		var p wireVersionPage
		if err := c.getJSON(ctx, next, &p); err != nil {
			return nil, err
		}
		for _, v := range p.Results {
			out = append(out, VersionRef(v))
		}
		next = ""
		if p.Next != nil && *p.Next != "" {
			resolved, err := c.resolve(*p.Next)
			if err != nil {
				return nil, &TransportError{URL: *p.Next, Err: err}
			}
			next = resolved
		}
	}
	return out, nil
}

// Versions returns the version strings of ListVersions.
func (c *Client) Versions(ctx context.Context, namespace, name string) ([]string, error) {
	refs, err := c.ListVersions(ctx, namespace, name)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Version)
	}
	return out, nil
}

// GetVersion returns the detail of one published version.
func (c *Client) GetVersion(ctx context.Context, namespace, name, version string) (*VersionDetail, error) {
	var w wireVersionDetail
	u := c.collectionURL(namespace, name) + "versions/" + url.PathEscape(version) + "/"
	if err := c.getJSON(ctx, u, &w); err != nil {
		return nil, err
	}
	d := &VersionDetail{
		Namespace:    w.Namespace.Name,
		Name:         w.Collection.Name,
		Version:      w.Version,
		Href:         w.Href,
		DownloadURL:  w.DownloadURL,
		SHA256:       strings.ToLower(w.Artifact.SHA256),
		Dependencies: w.Metadata.Dependencies,
	}
	if d.Namespace == "" {
		d.Namespace = namespace
	}
	if d.Name == "" {
		d.Name = name
	}
	if d.Version == "" {
		d.Version = version
	}
	if d.DownloadURL != "" {
		resolved, err := c.resolve(d.DownloadURL)
		if err != nil {
			return nil, &TransportError{URL: d.DownloadURL, Err: err}
		}
		d.DownloadURL = resolved
	}
	return d, nil
}

// Download streams the body at rawURL into w and returns the number of
// bytes written. Only the request is retried; a failure while copying is
// returned as is.
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer) (n int64, err error) {
	resp, err := c.get(ctx, rawURL, "*/*")
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	n, err = io.Copy(w, resp.Body)
	if err != nil {
		return n, &TransportError{URL: rawURL, Err: err}
	}
	c.logger.Debug("downloaded", "url", redactURL(rawURL), "bytes", n)
	return n, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	resp, err := c.get(ctx, rawURL, "application/json")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(v); err != nil {
		return &TransportError{URL: rawURL, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// get performs a GET through the host's circuit breaker, retrying
// transport failures and temporary server errors. The returned response
// always has status 200.
func (c *Client) get(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	var resp *http.Response
	attempt := 0
	op := func() error {
		attempt++
		r, err := c.do(ctx, rawURL, accept)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			c.logger.Debug("registry request failed", "url", redactURL(rawURL), "attempt", attempt, "err", err)
			return err
		}
		resp = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)

	err := c.breakers.call(c.breakerKey(rawURL), func() error {
		return backoff.Retry(op, policy)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// do issues a single request and classifies the answer.
func (c *Client) do(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" && c.isRegistryHost(req.URL) {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	c.logger.Debug("registry request", "url", redactURL(rawURL))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, &NotFoundError{URL: rawURL}
	default:
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, &TransportError{URL: rawURL, Err: errors.Join(
				fmt.Errorf("HTTP %d", resp.StatusCode), readErr)}
		}
		return nil, newServerError(resp.StatusCode, rawURL, body)
	}
}

func (c *Client) collectionURL(namespace, name string) string {
	return c.baseURL.JoinPath("api", "v2", "collections", namespace, name).String() + "/"
}

// resolve turns a possibly relative link from a response into an absolute
// URL on the registry.
func (c *Client) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return c.baseURL.ResolveReference(u).String(), nil
}

// isRegistryHost reports whether u targets the configured registry host,
// so the token is never sent to a download mirror.
func (c *Client) isRegistryHost(u *url.URL) bool {
	return strings.EqualFold(u.Host, c.baseURL.Host)
}

func (c *Client) breakerKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return c.baseURL.Host
	}
	return u.Host
}

// redactURL drops the query string and userinfo for use in messages.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
