package downloader

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"bookfetch/pkg/display"
)

// Mutable
type Manager struct {
	mu       sync.RWMutex
	handlers map[string]SchemeHandler
}

// NewManager returns a Downloader with no handlers registered.
func NewManager() *Manager {
	return &Manager{
		handlers: make(map[string]SchemeHandler),
	}
}

// NewDefaultDownloader registers the http, https and file handlers.
func NewDefaultDownloader(opts ...HTTPOption) *Manager {
	m := NewManager()
	m.Register(NewHTTPHandler(opts...))
	m.Register(NewFileHandler())
	return m
}

func (m *Manager) Register(h SchemeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, scheme := range h.Schemes() {
		m.handlers[scheme] = h
	}
}

func (m *Manager) Download(ctx context.Context, uri string, w io.Writer, task display.Task) error {
	u, err := url.Parse(uri)
	if err != nil {
		return &FetchError{URL: uri, Op: "parse", Cause: fmt.Errorf("invalid uri: %w", err)}
	}

	scheme := strings.ToLower(u.Scheme)
	m.mu.RLock()
	handler, ok := m.handlers[scheme]
	m.mu.RUnlock()
	if !ok {
		return &FetchError{URL: uri, Op: "parse", Cause: fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)}
	}

	return handler.Download(ctx, uri, w, task)
}
