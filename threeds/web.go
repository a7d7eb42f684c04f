package threeds

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/alovak/threeds-flow/threeds/models"
	"golang.org/x/exp/slog"
)

type NavigationEventKind string

const (
	// NavigationRedirect is a top-level navigation to URL.
	NavigationRedirect NavigationEventKind = "redirect"
	// NavigationCancelled means the host or the shopper closed the surface.
	NavigationCancelled NavigationEventKind = "cancelled"
	// NavigationFailed means a page failed to load.
	NavigationFailed NavigationEventKind = "failed"
)

type NavigationEvent struct {
	Kind NavigationEventKind
	URL  string
	Err  error
}

// Surface is one embedded web surface showing a challenge. A host may close
// the Events channel when the surface goes away on its own.
type Surface interface {
	Events() <-chan NavigationEvent
	Close() error
}

// NavigationHost loads URLs into web surfaces.
type NavigationHost interface {
	Open(ctx context.Context, transactionID, rawURL string) (Surface, error)
}

// Query parameters on the shopper result redirect. Only error and
// resourcePath are read; transStatus is compared against the provider and
// logged.
const (
	paramResourcePath = "resourcePath"
	paramTransStatus  = "transStatus"
	paramError        = "error"

	errorValueCancelled = "cancelled"
)

type WebOrchestrator struct {
	auth   Authenticator
	logger *slog.Logger
}

func NewWebOrchestrator(auth Authenticator, logger *slog.Logger) *WebOrchestrator {
	return &WebOrchestrator{auth: auth, logger: logger}
}

// ProceedChallenge loads challengeURL on host and waits for a terminal
// navigation: the shopper result redirect or the network acknowledgement
// redirect. The redirect only tells that the challenge finished; the outcome
// is looked up with the provider. priorErr, the native failure that led here
// if any, is attached to failures as their cause. The surface is always
// closed.
//
// The error is non-nil only when another orchestrator drives tx. tx is not
// touched in that case and the caller must not record a result.
func (o *WebOrchestrator) ProceedChallenge(ctx context.Context, tx *models.Transaction, p *Provider, challengeURL string, host NavigationHost, priorErr error) (*models.ChallengeResult, error) {
	if err := tx.Begin(models.FlowWeb); err != nil {
		return nil, err
	}
	defer tx.End()
	return o.proceed(ctx, tx, p, challengeURL, host, priorErr), nil
}

func (o *WebOrchestrator) proceed(ctx context.Context, tx *models.Transaction, p *Provider, challengeURL string, host NavigationHost, priorErr error) *models.ChallengeResult {
	logger := o.logger.With(slog.String("tx", tx.ID), slog.String("flow", string(models.FlowWeb)))

	if err := tx.Transition(models.StateAwaitingChallenge); err != nil {
		return webFailure(models.ChallengeProtocol, "starting web flow", err, priorErr)
	}
	if challengeURL == "" {
		return webFailure(models.ChallengeProtocol, "no challenge url", nil, priorErr)
	}
	if host == nil {
		return webFailure(models.ChallengeNavigationAborted, "no navigation host", nil, priorErr)
	}

	surface, err := host.Open(ctx, tx.ID, challengeURL)
	if err != nil {
		return webFailure(models.ChallengeNavigationAborted, "opening surface", err, priorErr)
	}
	defer func() {
		if err := surface.Close(); err != nil {
			logger.Warn("closing surface", "err", err)
		}
	}()
	logger.Info("web challenge started")

	resultURL := shopperResultURL(tx.Params(), p)
	events := surface.Events()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return webFailure(models.ChallengeTimeout, "no terminal redirect before deadline", ctx.Err(), priorErr)
			}
			return webFailure(models.ChallengeNavigationAborted, "caller cancelled", ctx.Err(), priorErr)

		case ev, ok := <-events:
			if !ok {
				return webFailure(models.ChallengeNavigationAborted, "surface closed before completion", nil, priorErr)
			}
			switch ev.Kind {
			case NavigationCancelled:
				return webFailure(models.ChallengeNavigationAborted, "navigation cancelled", ev.Err, priorErr)
			case NavigationFailed:
				return webFailure(models.ChallengeNavigationAborted, "navigation failed", ev.Err, priorErr)
			case NavigationRedirect:
				if p.IsNetworkCompletion(ev.URL) {
					logger.Info("network completion redirect")
					return o.complete(ctx, logger, tx, p, ev.URL, priorErr)
				}
				if resultURL != "" && matchesResultURL(ev.URL, resultURL) {
					logger.Info("shopper result redirect")
					return o.complete(ctx, logger, tx, p, ev.URL, priorErr)
				}
				logger.Debug("intermediate navigation", slog.String("url", redactQuery(ev.URL)))
			}
		}
	}
}

func webFailure(kind models.ChallengeErrorKind, description string, err, priorErr error) *models.ChallengeResult {
	return models.Failed(models.FlowWeb, models.NewChallengeError(kind, description, errors.Join(err, priorErr)))
}

// complete reads the outcome of a finished challenge from the provider. The
// redirect query comes through the shopper's browser and is not trusted.
func (o *WebOrchestrator) complete(ctx context.Context, logger *slog.Logger, tx *models.Transaction, p *Provider, rawURL string, priorErr error) *models.ChallengeResult {
	u, err := url.Parse(rawURL)
	if err != nil {
		return webFailure(models.ChallengeProtocol, "unparsable redirect", err, priorErr)
	}
	q := u.Query()

	if e := q.Get(paramError); e != "" {
		if strings.EqualFold(e, errorValueCancelled) {
			return webFailure(models.ChallengeUserCancelled, "shopper cancelled", nil, priorErr)
		}
		return webFailure(models.ChallengeProtocol, e, nil, priorErr)
	}

	resourcePath := q.Get(paramResourcePath)
	auth, err := o.auth.PaymentStatus(ctx, p, tx, resourcePath)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return webFailure(models.ChallengeTimeout, "payment status lookup", err, priorErr)
	case errors.Is(err, context.Canceled), errors.Is(ctx.Err(), context.Canceled):
		return webFailure(models.ChallengeNavigationAborted, "caller cancelled", err, priorErr)
	default:
		return webFailure(models.ChallengeProtocol, "payment status lookup", err, priorErr)
	}
	if auth == nil {
		return webFailure(models.ChallengeProtocol, "empty payment status", nil, priorErr)
	}

	if claimed := q.Get(paramTransStatus); claimed != "" && claimed != auth.TransStatus {
		logger.Warn("redirect transStatus differs from provider",
			slog.String("redirect", claimed), slog.String("provider", auth.TransStatus))
	}
	if auth.ResourcePath == "" {
		auth.ResourcePath = resourcePath
	}
	return models.Outcome(models.FlowWeb, auth, "", priorErr)
}

// matchesResultURL compares scheme, host and path; the query is ignored.
func matchesResultURL(rawURL, resultURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	r, err := url.Parse(resultURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, r.Scheme) &&
		strings.EqualFold(u.Host, r.Host) &&
		strings.TrimRight(u.Path, "/") == strings.TrimRight(r.Path, "/")
}

func redactQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
