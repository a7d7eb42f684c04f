package threeds

import (
	"context"
	"fmt"
	"sync"
)

// HTTPNavigationHost is a NavigationHost fed by HTTP requests: the shopper's
// browser returning to the service, or a web view reporting the navigations
// it observes.
type HTTPNavigationHost struct {
	mu       sync.Mutex
	surfaces map[string]*httpSurface
}

func NewHTTPNavigationHost() *HTTPNavigationHost {
	return &HTTPNavigationHost{surfaces: make(map[string]*httpSurface)}
}

func (h *HTTPNavigationHost) Open(ctx context.Context, transactionID, rawURL string) (Surface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.surfaces[transactionID]; ok {
		return nil, fmt.Errorf("surface for %s already open: %w", transactionID, ErrConflict)
	}
	s := &httpSurface{
		host:   h,
		id:     transactionID,
		url:    rawURL,
		events: make(chan NavigationEvent, 8),
		done:   make(chan struct{}),
	}
	h.surfaces[transactionID] = s
	return s, nil
}

// Report delivers ev to the open surface of the transaction.
func (h *HTTPNavigationHost) Report(ctx context.Context, transactionID string, ev NavigationEvent) error {
	h.mu.Lock()
	s, ok := h.surfaces[transactionID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("surface for %s: %w", transactionID, ErrNotFound)
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return fmt.Errorf("surface for %s: %w", transactionID, ErrNotFound)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *HTTPNavigationHost) Navigate(ctx context.Context, transactionID, rawURL string) error {
	return h.Report(ctx, transactionID, NavigationEvent{Kind: NavigationRedirect, URL: rawURL})
}

// Cancel closes the challenge on the shopper's behalf.
func (h *HTTPNavigationHost) Cancel(ctx context.Context, transactionID string) error {
	return h.Report(ctx, transactionID, NavigationEvent{Kind: NavigationCancelled})
}

// ChallengeURL returns the URL loaded into the open surface.
func (h *HTTPNavigationHost) ChallengeURL(transactionID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.surfaces[transactionID]
	if !ok {
		return "", false
	}
	return s.url, true
}

type httpSurface struct {
	host   *HTTPNavigationHost
	id     string
	url    string
	events chan NavigationEvent
	done   chan struct{}
	once   sync.Once
}

func (s *httpSurface) Events() <-chan NavigationEvent {
	return s.events
}

func (s *httpSurface) Close() error {
	s.once.Do(func() {
		s.host.mu.Lock()
		if s.host.surfaces[s.id] == s {
			delete(s.host.surfaces, s.id)
		}
		s.host.mu.Unlock()
		close(s.done)
	})
	return nil
}
