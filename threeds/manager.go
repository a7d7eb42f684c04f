package threeds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/alovak/threeds-flow/internal/lock"
	"github.com/alovak/threeds-flow/internal/providerapi"
	"github.com/alovak/threeds-flow/threeds/models"
	"golang.org/x/exp/slog"
)

// Completion receives the final outcome of a transaction. err is nil when the
// challenge succeeded.
type Completion func(tx *models.Transaction, err error)

// SessionSource fetches web 3DS session tokens from the provider.
type SessionSource interface {
	Session(ctx context.Context, p *Provider, checkoutID string) (*providerapi.Session, error)
}

// Journal records transaction snapshots as they change.
type Journal interface {
	Save(ctx context.Context, s models.Snapshot) error
}

// Manager is the entry point for running 3DS challenges. Every Proceed*
// call returns immediately and delivers its outcome to the completion exactly
// once, through the configured Dispatcher.
type Manager struct {
	native     *NativeOrchestrator
	web        *WebOrchestrator
	sdk        SDK
	sessions   SessionSource
	locker     lock.Locker
	journal    Journal
	dispatcher Dispatcher
	logger     *slog.Logger
	wg         sync.WaitGroup
}

type ManagerOption func(*Manager)

func WithDispatcher(d Dispatcher) ManagerOption {
	return func(m *Manager) { m.dispatcher = d }
}

// WithLocker guards each checkout with an exclusive lease. Transactions are
// local to the process that created them, so the lease is keyed on the
// provider checkout: two transactions, in one process or in several, never
// run a challenge for the same checkout at once.
func WithLocker(l lock.Locker) ManagerOption {
	return func(m *Manager) { m.locker = l }
}

func WithJournal(j Journal) ManagerOption {
	return func(m *Manager) { m.journal = j }
}

func WithSessionSource(s SessionSource) ManagerOption {
	return func(m *Manager) { m.sessions = s }
}

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

func NewManager(sdk SDK, auth Authenticator, opts ...ManagerOption) *Manager {
	m := &Manager{
		sdk:        sdk,
		dispatcher: InlineDispatcher,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.native = NewNativeOrchestrator(sdk, auth, m.logger)
	m.web = NewWebOrchestrator(auth, m.logger)
	return m
}

// ProceedWithAppFlowTransaction runs the native flow when the selector allows
// it and falls back to the web flow once if the native SDK cannot continue.
func (m *Manager) ProceedWithAppFlowTransaction(ctx context.Context, tx *models.Transaction, p *Provider, host NavigationHost, completion Completion) {
	m.goTransaction(ctx, tx, completion, func(ctx context.Context) error {
		return m.runApp(ctx, tx, p, host)
	})
}

// ProceedWithWebFlowTransaction runs the web flow directly.
func (m *Manager) ProceedWithWebFlowTransaction(ctx context.Context, tx *models.Transaction, p *Provider, host NavigationHost, completion Completion) {
	m.goTransaction(ctx, tx, completion, func(ctx context.Context) error {
		return m.runWeb(ctx, tx, p, host)
	})
}

// AddThreeDSFlowParam marks params for the in-app (SDK) flow.
func (m *Manager) AddThreeDSFlowParam(params *models.PaymentParams) *models.PaymentParams {
	td := params.ThreeDS()
	td.AppFlow = true
	td.DeviceChannel = models.DeviceChannelApp
	return params.WithThreeDS(td)
}

// EnrichWebThreeDSParams fetches a web 3DS session from the provider and
// returns params ready for a browser flow.
func (m *Manager) EnrichWebThreeDSParams(ctx context.Context, params *models.PaymentParams, p *Provider) (*models.PaymentParams, error) {
	if m.sessions == nil {
		return nil, ErrNoSessionSource
	}
	s, err := m.sessions.Session(ctx, p, params.CheckoutID())
	if err != nil {
		return nil, fmt.Errorf("fetching web 3ds session: %w", err)
	}

	td := params.ThreeDS()
	td.AppFlow = false
	td.DeviceChannel = models.DeviceChannelBrowser
	td.SessionToken = s.Token
	td.SessionExpiresAt = s.ExpiresAt
	out := params.WithThreeDS(td)

	if out.ShopperResultURL() == "" && p.ShopperResultURL() != "" {
		out, err = out.WithShopperResultURL(p.ShopperResultURL())
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AddWebThreeDSParamsToPaymentParams is the asynchronous form of
// EnrichWebThreeDSParams.
func (m *Manager) AddWebThreeDSParamsToPaymentParams(ctx context.Context, params *models.PaymentParams, p *Provider, completion func(*models.PaymentParams, error)) {
	box := newCompletionBox(completion, m.dispatcher, m.completionPanicked)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		var (
			out *models.PaymentParams
			err error
		)
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("panic enriching payment params", "panic", r)
				out, err = nil, fmt.Errorf("enriching payment params: panic: %v", r)
			}
			deliver(m, box, out, err)
		}()
		out, err = m.EnrichWebThreeDSParams(ctx, params, p)
	}()
}

// SecurityWarnings queries the SDK for device security warnings. It does not
// interact with running challenges.
func (m *Manager) SecurityWarnings(ctx context.Context, completion func([]models.Warning, error)) {
	box := newCompletionBox(completion, m.dispatcher, m.completionPanicked)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		var (
			ws  []models.Warning
			err error
		)
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("panic querying security warnings", "panic", r)
				ws, err = nil, &WarningsQueryError{Err: fmt.Errorf("panic: %v", r)}
			}
			deliver(m, box, ws, err)
		}()
		ws, err = m.sdk.Warnings(ctx)
		if err != nil {
			err = &WarningsQueryError{Err: err}
		}
	}()
}

// Wait blocks until every started operation delivered its completion.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) goTransaction(ctx context.Context, tx *models.Transaction, completion Completion, run func(context.Context) error) {
	box := newCompletionBox[*models.Transaction](completion, m.dispatcher, m.completionPanicked)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		var err error
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("panic in 3ds flow", slog.String("tx", tx.ID), "panic", r)
				err = models.NewChallengeError(models.ChallengeProtocol, "internal error", fmt.Errorf("panic: %v", r))
				if serr := tx.SetResult(models.Failed(tx.Flow(), err)); serr == nil {
					m.record(tx)
				}
			}
			deliver(m, box, tx, err)
		}()
		err = run(ctx)
	}()
}

func (m *Manager) completionPanicked(r any) {
	m.logger.Error("panic in completion", "panic", r)
}

func deliver[T any](m *Manager, box *completionBox[T], v T, err error) {
	if ferr := box.fire(v, err); ferr != nil {
		m.logger.Error("delivering completion", "err", ferr)
	}
}

func (m *Manager) runApp(ctx context.Context, tx *models.Transaction, p *Provider, host NavigationHost) error {
	ctx, cancel := context.WithTimeout(ctx, p.ChallengeTimeout())
	defer cancel()

	release, err := m.acquire(ctx, tx, p)
	if err != nil {
		return err
	}
	defer release()
	m.record(tx)

	var priorErr error
	if Select(tx, p) == models.FlowNative {
		res, err := m.native.Run(ctx, tx, p)
		if err == nil {
			return m.finish(tx, res)
		}
		var ferr *FlowError
		if !errors.As(err, &ferr) {
			return err
		}
		if _, fbErr := Fallback(tx); fbErr != nil {
			return m.finish(tx, models.Failed(models.FlowNative, models.NewChallengeError(models.ChallengeProtocol, "native flow failed", errors.Join(ferr, fbErr))))
		}
		m.logger.Info("falling back to web flow", slog.String("tx", tx.ID))
		m.record(tx)
		priorErr = ferr
	}

	res, err := m.web.ProceedChallenge(ctx, tx, p, tx.ChallengeURL(), host, priorErr)
	if err != nil {
		return err
	}
	return m.finish(tx, res)
}

func (m *Manager) runWeb(ctx context.Context, tx *models.Transaction, p *Provider, host NavigationHost) error {
	ctx, cancel := context.WithTimeout(ctx, p.ChallengeTimeout())
	defer cancel()

	release, err := m.acquire(ctx, tx, p)
	if err != nil {
		return err
	}
	defer release()
	m.record(tx)

	res, err := m.web.ProceedChallenge(ctx, tx, p, tx.ChallengeURL(), host, nil)
	if err != nil {
		return err
	}
	return m.finish(tx, res)
}

func (m *Manager) finish(tx *models.Transaction, res *models.ChallengeResult) error {
	if err := tx.SetResult(res); err != nil {
		return fmt.Errorf("storing result of %s: %w", tx.ID, err)
	}
	m.record(tx)

	if res.Err != nil {
		m.logger.Info("3ds challenge failed", slog.String("tx", tx.ID), slog.String("flow", string(res.Flow)), "err", res.Err)
		return res.Err
	}
	m.logger.Info("3ds challenge succeeded", slog.String("tx", tx.ID), slog.String("flow", string(res.Flow)))
	return nil
}

func (m *Manager) acquire(ctx context.Context, tx *models.Transaction, p *Provider) (func(), error) {
	if m.locker == nil {
		return func() {}, nil
	}
	checkoutID := tx.Params().CheckoutID()
	lease, err := m.locker.Acquire(ctx, checkoutLockKey(checkoutID), p.ChallengeTimeout()+time.Minute)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, fmt.Errorf("%w: checkout %s", ErrTransactionBusy, checkoutID)
		}
		return nil, fmt.Errorf("locking checkout %s: %w", checkoutID, err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lease.Release(ctx); err != nil {
			m.logger.Warn("releasing checkout lock", slog.String("tx", tx.ID), "err", err)
		}
	}, nil
}

func checkoutLockKey(checkoutID string) string {
	return "checkout:" + checkoutID
}

// record saves a snapshot. Journal failures are logged and never change the
// outcome.
func (m *Manager) record(tx *models.Transaction) {
	if m.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.journal.Save(ctx, tx.Snapshot()); err != nil {
		m.logger.Warn("journaling transaction", slog.String("tx", tx.ID), "err", err)
	}
}
