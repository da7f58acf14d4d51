package release

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"bookfetch/pkg/downloader"
)

// MaxPageBytes bounds the size of one listing response.
const MaxPageBytes = 10 << 20

// Option configures a provider.
type Option func(*settings)

type settings struct {
	baseURL   string
	token     string
	client    *http.Client
	userAgent string
	maxPages  int
	logger    *slog.Logger
}

func newSettings(opts []Option) settings {
	s := settings{
		baseURL:   DefaultGitHubAPI,
		client:    http.DefaultClient,
		userAgent: downloader.DefaultUserAgent,
		maxPages:  DefaultMaxPages,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	s.baseURL = strings.TrimRight(s.baseURL, "/")
	if s.maxPages <= 0 {
		s.maxPages = DefaultMaxPages
	}
	return s
}

// WithBaseURL overrides the API endpoint, e.g. for GitHub Enterprise.
func WithBaseURL(u string) Option {
	return func(s *settings) { s.baseURL = u }
}

// WithToken sends an authorization token with every API request.
func WithToken(token string) Option {
	return func(s *settings) { s.token = token }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *settings) { s.userAgent = ua }
}

// WithMaxPages bounds how many listing pages are followed.
func WithMaxPages(n int) Option {
	return func(s *settings) { s.maxPages = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// get fetches one listing page, bounded to MaxPageBytes.
func (s *settings) get(ctx context.Context, uri, accept string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", s.userAgent)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	s.logger.Debug("Fetching release listing", "url", uri)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(uri, resp); err != nil {
		return nil, nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxPageBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if len(body) > MaxPageBytes {
		return nil, nil, fmt.Errorf("%w: response exceeds %s", ErrMalformed, humanize.IBytes(MaxPageBytes))
	}
	return body, resp.Header, nil
}

func checkStatus(uri string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		h := resp.Header
		if h.Get("X-RateLimit-Remaining") == "0" || h.Get("Retry-After") != "" {
			return fmt.Errorf("%w: %s", ErrRateLimited, retryHint(h))
		}
	}
	return &downloader.HTTPError{URL: uri, StatusCode: resp.StatusCode, Status: resp.Status}
}

func retryHint(h http.Header) string {
	if secs, err := strconv.Atoi(h.Get("Retry-After")); err == nil {
		return fmt.Sprintf("retry after %ds", secs)
	}
	if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		return "limit resets " + humanize.Time(time.Unix(reset, 0))
	}
	return "limit exhausted"
}

// nextLink extracts the rel="next" target of a Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(segs[0]), "<>")
		for _, p := range segs[1:] {
			if strings.ReplaceAll(strings.TrimSpace(p), " ", "") == `rel="next"` {
				return target
			}
		}
	}
	return ""
}
