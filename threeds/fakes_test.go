package threeds_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alovak/threeds-flow/internal/brand"
	"github.com/alovak/threeds-flow/internal/providerapi"
	"github.com/alovak/threeds-flow/threeds"
	"github.com/alovak/threeds-flow/threeds/models"
	"github.com/stretchr/testify/require"
)

const resultURL = "https://shop.example.com/threeds/result"

func newProvider(t *testing.T, native bool) *threeds.Provider {
	t.Helper()
	p, err := threeds.NewProvider(threeds.ProviderConfig{
		EntityID:         "8a8294174b7ecb28014b9699220015ca",
		BaseURL:          "https://provider.example.com",
		NativeThreeDS:    native,
		ShopperResultURL: resultURL,
		ChallengeTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	return p
}

func newCardTx(t *testing.T) *models.Transaction {
	t.Helper()
	params, err := models.NewCardParams("CO-1", brand.Visa, models.CardInput{
		Holder:      "Jane Jones",
		Number:      "4000000000003220",
		ExpiryMonth: "12",
		ExpiryYear:  "2040",
		CVV:         "123",
	})
	require.NoError(t, err)
	tx := models.NewTransaction(params)
	tx.ApplyCheckout(1999, "EUR", models.AuthenticationInfo{
		DirectoryServerID:   "A000000003",
		ProtocolVersion:     "2.2.0",
		ServerTransactionID: "srv-1",
	}, "https://acs.example.com/challenge/CO-1")
	return tx
}

type fakeSDK struct {
	mu          sync.Mutex
	createErr   error
	areqErr     error
	outcome     threeds.ChallengeOutcome
	challengeFn func(ctx context.Context) error
	warnings    []models.Warning
	warningsErr error
	created     int
	closed      int
}

func (s *fakeSDK) CreateTransaction(ctx context.Context, dsID, version string) (threeds.SDKTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created++
	return &fakeSDKTx{sdk: s}, nil
}

func (s *fakeSDK) Warnings(ctx context.Context) ([]models.Warning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.warnings, s.warningsErr
}

func (s *fakeSDK) closedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeSDKTx struct {
	sdk *fakeSDK
}

func (t *fakeSDKTx) AuthenticationRequestParameters(ctx context.Context) (threeds.AuthRequestParameters, error) {
	if t.sdk.areqErr != nil {
		return threeds.AuthRequestParameters{}, t.sdk.areqErr
	}
	return threeds.AuthRequestParameters{SDKTransactionID: "sdk-1", MessageVersion: "2.2.0"}, nil
}

func (t *fakeSDKTx) DoChallenge(ctx context.Context, params threeds.ChallengeParameters) (threeds.ChallengeOutcome, error) {
	if t.sdk.challengeFn != nil {
		if err := t.sdk.challengeFn(ctx); err != nil {
			return threeds.ChallengeOutcome{}, err
		}
	}
	return t.sdk.outcome, nil
}

func (t *fakeSDKTx) Close() error {
	t.sdk.mu.Lock()
	defer t.sdk.mu.Unlock()
	t.sdk.closed++
	return nil
}

type fakeAuth struct {
	resp      *threeds.AuthenticationResponse
	err       error
	result    *models.Authentication
	resultErr error
	// status is the provider's record of the checkout. nil means a
	// confirmed Y.
	status    *models.Authentication
	statusErr error

	mu      sync.Mutex
	lookups []string
}

func (a *fakeAuth) Authenticate(ctx context.Context, p *threeds.Provider, tx *models.Transaction, req threeds.AuthRequestParameters) (*threeds.AuthenticationResponse, error) {
	return a.resp, a.err
}

func (a *fakeAuth) ChallengeResult(ctx context.Context, p *threeds.Provider, tx *models.Transaction, outcome threeds.ChallengeOutcome) (*models.Authentication, error) {
	if a.resultErr != nil {
		return nil, a.resultErr
	}
	if a.result != nil {
		return a.result, nil
	}
	return &models.Authentication{TransStatus: outcome.TransStatus, ECI: "05"}, nil
}

func (a *fakeAuth) PaymentStatus(ctx context.Context, p *threeds.Provider, tx *models.Transaction, resourcePath string) (*models.Authentication, error) {
	a.mu.Lock()
	a.lookups = append(a.lookups, resourcePath)
	a.mu.Unlock()
	if a.statusErr != nil {
		return nil, a.statusErr
	}
	if a.status != nil {
		auth := *a.status
		return &auth, nil
	}
	return &models.Authentication{TransStatus: models.TransStatusAuthenticated, ECI: "05"}, nil
}

func (a *fakeAuth) statusLookups() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.lookups...)
}

// fakeHost opens surfaces that replay a fixed list of events. With feed set,
// every surface reads from feed instead, so a test decides when the
// challenge ends.
type fakeHost struct {
	mu       sync.Mutex
	events   []threeds.NavigationEvent
	closeCh  bool
	feed     chan threeds.NavigationEvent
	openErr  error
	opened   []string
	surfaces []*fakeSurface
}

func (h *fakeHost) Open(ctx context.Context, txID, rawURL string) (threeds.Surface, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.openErr != nil {
		return nil, h.openErr
	}
	h.opened = append(h.opened, rawURL)
	if h.feed != nil {
		s := &fakeSurface{ch: h.feed}
		h.surfaces = append(h.surfaces, s)
		return s, nil
	}
	s := &fakeSurface{ch: make(chan threeds.NavigationEvent, len(h.events)+1)}
	for _, ev := range h.events {
		s.ch <- ev
	}
	if h.closeCh {
		close(s.ch)
	}
	h.surfaces = append(h.surfaces, s)
	return s, nil
}

func (h *fakeHost) openedURLs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.opened...)
}

func (h *fakeHost) allClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.surfaces {
		if !s.isClosed() {
			return false
		}
	}
	return true
}

type fakeSurface struct {
	mu     sync.Mutex
	ch     chan threeds.NavigationEvent
	closed bool
}

func (s *fakeSurface) Events() <-chan threeds.NavigationEvent { return s.ch }

func (s *fakeSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSurface) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeSessions struct {
	session *providerapi.Session
	err     error
}

func (f *fakeSessions) Session(ctx context.Context, p *threeds.Provider, checkoutID string) (*providerapi.Session, error) {
	return f.session, f.err
}

func redirect(u string) threeds.NavigationEvent {
	return threeds.NavigationEvent{Kind: threeds.NavigationRedirect, URL: u}
}
