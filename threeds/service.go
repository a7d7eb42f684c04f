package threeds

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alovak/threeds-flow/internal/authmsg"
	"github.com/alovak/threeds-flow/internal/brand"
	"github.com/alovak/threeds-flow/internal/cardgen"
	"github.com/alovak/threeds-flow/threeds/models"
	"golang.org/x/exp/slog"
)

const (
	FlowApp = "app"
	FlowWeb = "web"

	returnPath = "/threeds/return/"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrNotAuthorizable = errors.New("transaction cannot be authorized")
)

// CreateTransaction is the request to start a 3DS challenge for a checkout.
type CreateTransaction struct {
	CheckoutID       string            `json:"checkout_id"`
	Brand            string            `json:"brand"`
	Flow             string            `json:"flow"`
	ShopperResultURL string            `json:"shopper_result_url,omitempty"`
	Locale           string            `json:"locale,omitempty"`
	Card             *models.CardInput `json:"card,omitempty"`
	ApplePayToken    string            `json:"apple_pay_token,omitempty"`
}

// TransactionView is the API representation of a transaction.
type TransactionView struct {
	models.Snapshot
	ChallengeURL string `json:"challenge_url,omitempty"`
	Card         string `json:"card,omitempty"`
}

// Service creates transactions from API requests, submits them to the
// provider and hands them to the Manager.
type Service struct {
	manager   *Manager
	client    *ProviderClient
	provider  *Provider
	repo      *Repository
	host      *HTTPNavigationHost
	publicURL string
	config    *Config
	logger    *slog.Logger

	// runs outlive the request that started them
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	live         map[string]*models.Transaction
	merchantURLs map[string]string
	stan         atomic.Int32
}

func NewService(logger *slog.Logger, config *Config, provider *Provider, manager *Manager, client *ProviderClient, repo *Repository, host *HTTPNavigationHost, publicURL string) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		manager:      manager,
		client:       client,
		provider:     provider,
		repo:         repo,
		host:         host,
		publicURL:    strings.TrimRight(publicURL, "/"),
		config:       config,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		live:         make(map[string]*models.Transaction),
		merchantURLs: make(map[string]string),
	}
}

// Create builds params, registers the transaction, submits the checkout and
// starts the challenge in the background.
func (s *Service) Create(ctx context.Context, req CreateTransaction) (*TransactionView, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}
	tx := models.NewTransaction(params)

	// The service itself observes the shopper result redirect. The merchant's
	// URL, if any, is where the browser goes afterwards.
	params, err = params.WithShopperResultURL(s.publicURL + returnPath + tx.ID)
	if err != nil {
		return nil, err
	}

	flow := req.Flow
	if flow == "" {
		flow = FlowApp
	}
	switch flow {
	case FlowApp:
		params = s.manager.AddThreeDSFlowParam(params)
	case FlowWeb:
		params, err = s.manager.EnrichWebThreeDSParams(ctx, params, s.provider)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: flow %q", ErrInvalidRequest, req.Flow)
	}
	tx.SetParams(params)

	if err := s.repo.Create(ctx, tx.Snapshot()); err != nil {
		return nil, err
	}

	logger := s.logger.With(slog.String("tx", tx.ID), slog.String("checkout", params.CheckoutID()), slog.String("brand", params.Brand()))
	if card, ok := params.Card(); ok {
		logger = logger.With(slog.String("card", cardgen.MaskPAN(card.Number)))
	}

	if err := s.client.Submit(ctx, s.provider, tx); err != nil {
		logger.Warn("submitting checkout", "err", err)
		if serr := tx.SetResult(models.Failed("", models.NewChallengeError(models.ChallengeProtocol, "submitting checkout", err))); serr == nil {
			s.save(tx)
		}
		return nil, err
	}
	tx.SetParams(tx.Params().WithoutCVV())
	s.save(tx)

	s.mu.Lock()
	s.live[tx.ID] = tx
	if req.ShopperResultURL != "" {
		s.merchantURLs[tx.ID] = req.ShopperResultURL
	}
	s.mu.Unlock()

	completion := func(tx *models.Transaction, err error) {
		s.evictAfter(tx.ID, s.config.LiveRetention)
		if err != nil {
			logger.Info("transaction finished", slog.String("state", string(tx.State())), "err", err)
			return
		}
		logger.Info("transaction authenticated")
	}
	if flow == FlowApp {
		s.manager.ProceedWithAppFlowTransaction(s.ctx, tx, s.provider, s.host, completion)
	} else {
		s.manager.ProceedWithWebFlowTransaction(s.ctx, tx, s.provider, s.host, completion)
	}
	logger.Info("transaction started", slog.String("flow", flow))

	return s.view(tx.Snapshot(), tx), nil
}

// Get prefers the live transaction and falls back to the journal.
func (s *Service) Get(ctx context.Context, id string) (*TransactionView, error) {
	if tx, ok := s.transaction(id); ok {
		return s.view(tx.Snapshot(), tx), nil
	}
	snap, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(snap, nil), nil
}

func (s *Service) List(ctx context.Context, limit int) ([]models.Snapshot, error) {
	return s.repo.List(ctx, limit)
}

// Return reports the shopper's browser arriving at the result URL. It
// returns the merchant URL the browser should continue to, if any.
func (s *Service) Return(ctx context.Context, id, requestURI string) (string, error) {
	if err := s.host.Navigate(ctx, id, s.publicURL+requestURI); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.merchantURLs[id], nil
}

func (s *Service) Cancel(ctx context.Context, id string) error {
	return s.host.Cancel(ctx, id)
}

// Navigation relays a navigation observed by a web view hosting the
// challenge.
func (s *Service) Navigation(ctx context.Context, id string, ev NavigationEvent) error {
	switch ev.Kind {
	case NavigationRedirect, NavigationCancelled, NavigationFailed:
	default:
		return fmt.Errorf("%w: navigation kind %q", ErrInvalidRequest, ev.Kind)
	}
	return s.host.Report(ctx, id, ev)
}

// Authorization builds the ISO 8583 authorization request for a card
// transaction that authenticated successfully.
func (s *Service) Authorization(ctx context.Context, id string) ([]byte, error) {
	tx, ok := s.transaction(id)
	if !ok {
		if _, err := s.repo.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: card data is only kept for live transactions", ErrNotAuthorizable)
	}
	res := tx.Result()
	if !res.Succeeded() {
		return nil, fmt.Errorf("%w: not authenticated", ErrNotAuthorizable)
	}
	card, ok := tx.Params().Card()
	if !ok {
		return nil, fmt.Errorf("%w: not a card payment", ErrNotAuthorizable)
	}

	auth := res.Authentication
	version := auth.ProtocolVersion
	if version == "" {
		version = tx.ThreeDS.ProtocolVersion
	}
	return authmsg.Pack(authmsg.Request{
		PAN:           card.Number,
		ExpiryYYMM:    card.ExpiryYYMM,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		STAN:          s.nextSTAN(),
		TransmittedAt: time.Now(),
		TerminalID:    s.config.TerminalID,
		MerchantID:    s.config.MerchantID,
		ThreeDS: authmsg.ThreeDS{
			TransStatus:         auth.TransStatus,
			ECI:                 auth.ECI,
			AuthenticationValue: auth.AuthenticationValue,
			DSTransactionID:     auth.DSTransactionID,
			ProtocolVersion:     version,
		},
	})
}

// Close stops running challenges and waits for their completions.
func (s *Service) Close() {
	s.cancel()
	s.manager.Wait()
}

// evictAfter drops a finished transaction from memory once retention
// passed. The journal keeps its snapshot.
func (s *Service) evictAfter(id string, retention time.Duration) {
	evict := func() {
		s.mu.Lock()
		delete(s.live, id)
		delete(s.merchantURLs, id)
		s.mu.Unlock()
		s.logger.Debug("evicted live transaction", slog.String("tx", id))
	}
	if retention <= 0 {
		evict()
		return
	}
	time.AfterFunc(retention, evict)
}

func (s *Service) transaction(id string) (*models.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.live[id]
	return tx, ok
}

func (s *Service) view(snap models.Snapshot, tx *models.Transaction) *TransactionView {
	v := &TransactionView{Snapshot: snap}
	if tx == nil {
		return v
	}
	if u, ok := s.host.ChallengeURL(tx.ID); ok {
		v.ChallengeURL = u
	}
	if card, ok := tx.Params().Card(); ok {
		v.Card = cardgen.MaskPAN(card.Number)
	}
	return v
}

func (s *Service) save(tx *models.Transaction) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.Save(ctx, tx.Snapshot()); err != nil {
		s.logger.Warn("journaling transaction", slog.String("tx", tx.ID), "err", err)
	}
}

func (s *Service) nextSTAN() int {
	for {
		cur := s.stan.Load()
		next := cur%999999 + 1
		if s.stan.CompareAndSwap(cur, next) {
			return int(next)
		}
	}
}

// buildParams picks the factory for the brand's family.
func buildParams(req CreateTransaction) (*models.PaymentParams, error) {
	kind, err := brand.Resolve(req.Brand)
	if err != nil {
		return nil, &models.ConstructionError{Field: "brand", Err: err}
	}
	switch kind {
	case brand.KindCard:
		if req.Card == nil {
			return nil, &models.ConstructionError{Field: "card", Err: models.ErrInvalidCard}
		}
		return models.NewCardParams(req.CheckoutID, req.Brand, *req.Card)
	case brand.KindKlarna, brand.KindKlarnaInline:
		return models.NewKlarnaParams(req.CheckoutID, req.Brand, req.Locale)
	case brand.KindApplePay:
		token, err := base64.StdEncoding.DecodeString(req.ApplePayToken)
		if err != nil {
			return nil, &models.ConstructionError{Field: "apple_pay_token", Err: fmt.Errorf("%w: %v", models.ErrInvalidToken, err)}
		}
		return models.NewApplePayParams(req.CheckoutID, token, models.WithBrandOverride(req.Brand))
	case brand.KindClearPay:
		return models.NewClearPayParams(req.CheckoutID, models.WithBrandOverride(req.Brand))
	case brand.KindCashAppPay:
		return models.NewCashAppPayParams(req.CheckoutID)
	}
	return models.NewPaymentParams(req.CheckoutID, req.Brand)
}
