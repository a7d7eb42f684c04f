package sdksim

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"html/template"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/alovak/threeds-flow/internal/brand"
	"github.com/alovak/threeds-flow/internal/providerapi"
	"github.com/alovak/threeds-flow/threeds/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Test cards steering the simulated issuer.
const (
	CardFrictionless       = "4242424242424242"
	CardChallenge          = "4000000000003220"
	CardRejected           = "4000000000009995"
	CardRedirect           = "4000000000003238"
	CardUnsupportedVersion = "4000000000003063"
)

const (
	directoryServerID = "A000000003"
	protocolVersion   = "2.2.0"
	sessionTTL        = 15 * time.Minute
)

type checkout struct {
	id               string
	brand            string
	cardNumber       string
	shopperResultURL string
	serverTxID       string
	// outcome is the last authentication recorded for the checkout.
	outcome *providerapi.AuthenticateResponse
}

// Provider simulates the provider checkout API and an ACS challenge page.
type Provider struct {
	mu        sync.Mutex
	checkouts map[string]*checkout

	sessionKey []byte
	prefix     string
	amount     int64
	currency   string
}

// NewProvider returns a simulator whose routes are mounted under prefix.
func NewProvider(sessionKey []byte, prefix string) *Provider {
	return &Provider{
		checkouts:  make(map[string]*checkout),
		sessionKey: sessionKey,
		prefix:     prefix,
		amount:     1999,
		currency:   "EUR",
	}
}

func (p *Provider) AppendRoutes(r chi.Router) {
	r.Route("/v1/checkouts/{checkoutID}", func(r chi.Router) {
		r.Post("/threeds", p.submit)
		r.Post("/threeds/authenticate", p.authenticate)
		r.Post("/threeds/result", p.challengeResult)
		r.Get("/threeds/status", p.status)
		r.Post("/session", p.session)
	})
	r.Get("/acs/{checkoutID}", p.acsPage)
	r.Get("/acs/{checkoutID}/complete", p.acsComplete)
}

func (p *Provider) submit(w http.ResponseWriter, r *http.Request) {
	var req providerapi.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	co := &checkout{
		id:               chi.URLParam(r, "checkoutID"),
		brand:            req.Brand,
		shopperResultURL: req.ShopperResultURL,
		serverTxID:       uuid.New().String(),
	}
	if req.Card != nil {
		co.cardNumber = req.Card.Number
	}
	p.mu.Lock()
	p.checkouts[co.id] = co
	p.mu.Unlock()

	resp := providerapi.SubmitResponse{
		CheckoutID:  co.id,
		Amount:      p.amount,
		Currency:    p.currency,
		RedirectURL: p.acsURL(r, co.id),
	}
	if req.AppFlow && brand.IsCardBrand(req.Brand) {
		version := protocolVersion
		if co.cardNumber == CardUnsupportedVersion {
			version = "2.0.0"
		}
		resp.ThreeDS = &providerapi.ThreeDSInfo{
			DirectoryServerID:   directoryServerID,
			ProtocolVersion:     version,
			ServerTransactionID: co.serverTxID,
		}
	}
	writeJSON(w, resp)
}

func (p *Provider) authenticate(w http.ResponseWriter, r *http.Request) {
	co, ok := p.checkout(chi.URLParam(r, "checkoutID"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	var req providerapi.AuthenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var resp providerapi.AuthenticateResponse
	switch co.cardNumber {
	case CardChallenge:
		resp = providerapi.AuthenticateResponse{
			Decision:           providerapi.DecisionChallenge,
			ACSTransactionID:   uuid.New().String(),
			ACSReferenceNumber: "3DS_LOA_ACS_SIM",
			ACSSignedContent:   "sim." + req.SDKTransactionID,
		}
	case CardRejected:
		resp = providerapi.AuthenticateResponse{
			Decision:    providerapi.DecisionRejected,
			TransStatus: models.TransStatusRejected,
			Reason:      "issuer declined authentication",
		}
	case CardRedirect:
		resp = providerapi.AuthenticateResponse{
			Decision:    providerapi.DecisionRedirect,
			RedirectURL: p.acsURL(r, co.id),
		}
	default:
		resp = approved(models.TransStatusAuthenticated)
		resp.Decision = providerapi.DecisionFrictionless
	}
	if resp.TransStatus != "" {
		p.record(co.id, resp)
	}
	writeJSON(w, resp)
}

func (p *Provider) challengeResult(w http.ResponseWriter, r *http.Request) {
	co, ok := p.checkout(chi.URLParam(r, "checkoutID"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	var req providerapi.ChallengeResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a := p.record(co.id, issuerAnswer(co, req.TransStatus))
	writeJSON(w, providerapi.ChallengeResultResponse{
		TransStatus:         a.TransStatus,
		ECI:                 a.ECI,
		AuthenticationValue: a.AuthenticationValue,
		DSTransactionID:     a.DSTransactionID,
	})
}

// status reports the recorded outcome. TransStatus stays empty until the
// checkout has one.
func (p *Provider) status(w http.ResponseWriter, r *http.Request) {
	co, ok := p.checkout(chi.URLParam(r, "checkoutID"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	resp := providerapi.StatusResponse{ResourcePath: r.URL.Query().Get("resourcePath")}
	p.mu.Lock()
	if a := co.outcome; a != nil {
		resp.TransStatus = a.TransStatus
		resp.ECI = a.ECI
		resp.AuthenticationValue = a.AuthenticationValue
		resp.DSTransactionID = a.DSTransactionID
	}
	p.mu.Unlock()
	writeJSON(w, resp)
}

func (p *Provider) session(w http.ResponseWriter, r *http.Request) {
	token, err := providerapi.SignSessionToken(p.sessionKey, "sdksim", chi.URLParam(r, "checkoutID"), sessionTTL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"token": token})
}

var acsTemplate = template.Must(template.New("acs").Parse(`<!doctype html>
<html><body>
<h1>Simulated 3-D Secure challenge</h1>
<p>Checkout {{.ID}}</p>
<ul>
<li><a href="{{.Approve}}">Authenticate</a></li>
<li><a href="{{.Decline}}">Fail authentication</a></li>
<li><a href="{{.Cancel}}">Cancel</a></li>
</ul>
</body></html>`))

func (p *Provider) acsPage(w http.ResponseWriter, r *http.Request) {
	co, ok := p.checkout(chi.URLParam(r, "checkoutID"))
	if !ok || co.shopperResultURL == "" {
		http.NotFound(w, r)
		return
	}
	complete := p.acsURL(r, co.id) + "/complete?decision="
	page := struct {
		ID, Approve, Decline, Cancel string
	}{
		ID:      co.id,
		Approve: complete + decisionApprove,
		Decline: complete + decisionDecline,
		Cancel:  complete + decisionCancel,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := acsTemplate.Execute(w, page); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Shopper decisions on the ACS page.
const (
	decisionApprove = "approve"
	decisionDecline = "decline"
	decisionCancel  = "cancel"
)

// acsComplete records the shopper's decision and sends the browser to the
// shopper result URL, the way an ACS finishes a browser challenge.
func (p *Provider) acsComplete(w http.ResponseWriter, r *http.Request) {
	co, ok := p.checkout(chi.URLParam(r, "checkoutID"))
	if !ok || co.shopperResultURL == "" {
		http.NotFound(w, r)
		return
	}

	var a providerapi.AuthenticateResponse
	switch r.URL.Query().Get("decision") {
	case decisionApprove:
		a = p.record(co.id, issuerAnswer(co, models.TransStatusAuthenticated))
	case decisionDecline:
		a = p.record(co.id, issuerAnswer(co, models.TransStatusNotAuth))
	case decisionCancel:
		http.Redirect(w, r, withQuery(co.shopperResultURL, url.Values{"error": {"cancelled"}}), http.StatusFound)
		return
	default:
		http.Error(w, "unknown decision", http.StatusBadRequest)
		return
	}

	q := url.Values{
		"resourcePath": {"/v1/checkouts/" + co.id + "/payment"},
		"transStatus":  {a.TransStatus},
	}
	if a.ECI != "" {
		q.Set("eci", a.ECI)
	}
	http.Redirect(w, r, withQuery(co.shopperResultURL, q), http.StatusFound)
}

func (p *Provider) checkout(id string) (*checkout, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	co, ok := p.checkouts[id]
	return co, ok
}

func (p *Provider) record(id string, a providerapi.AuthenticateResponse) providerapi.AuthenticateResponse {
	p.mu.Lock()
	defer p.mu.Unlock()
	if co, ok := p.checkouts[id]; ok {
		co.outcome = &a
	}
	return a
}

func (p *Provider) acsURL(r *http.Request, checkoutID string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + p.prefix + "/acs/" + url.PathEscape(checkoutID)
}

// issuerAnswer is the issuer's verdict on a completed challenge. The rejected
// test card fails whatever the cardholder did.
func issuerAnswer(co *checkout, status string) providerapi.AuthenticateResponse {
	if co.cardNumber == CardRejected {
		status = models.TransStatusRejected
	}
	return approved(status)
}

func approved(status string) providerapi.AuthenticateResponse {
	resp := providerapi.AuthenticateResponse{TransStatus: status}
	switch status {
	case models.TransStatusAuthenticated:
		resp.ECI = "05"
	case models.TransStatusAttempted:
		resp.ECI = "06"
	default:
		return resp
	}
	b := make([]byte, 20)
	rand.Read(b)
	resp.AuthenticationValue = base64.StdEncoding.EncodeToString(b)
	resp.DSTransactionID = uuid.New().String()
	return resp
}

func withQuery(raw string, q url.Values) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	existing := u.Query()
	for k, vs := range q {
		existing[k] = vs
	}
	u.RawQuery = existing.Encode()
	return u.String()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
