// Package providerapi is the HTTP client of the payment provider's checkout
// API: checkout submission, 3DS authentication round trips and web session
// tokens.
package providerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrNotFound = errors.New("checkout not found")

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status=%d body=%s", e.Op, e.Code, e.Body)
}

type Client struct {
	HTTP *http.Client
}

func New(hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{HTTP: hc}
}

// Credentials identify the merchant at the provider.
type Credentials struct {
	BaseURL     string
	EntityID    string
	AccessToken string
}

type Card struct {
	Holder     string `json:"holder,omitempty"`
	Number     string `json:"number"` // dev only; production submits a token
	ExpiryYYMM string `json:"expiry_yymm"`
	CVV        string `json:"cvv,omitempty"`
}

type SubmitRequest struct {
	Brand            string `json:"brand"`
	DeviceChannel    string `json:"device_channel"`
	AppFlow          bool   `json:"app_flow"`
	ShopperResultURL string `json:"shopper_result_url,omitempty"`
	SessionToken     string `json:"session_token,omitempty"`
	Card             *Card  `json:"card,omitempty"`
}

type ThreeDSInfo struct {
	DirectoryServerID   string `json:"directory_server_id"`
	ProtocolVersion     string `json:"protocol_version"`
	ServerTransactionID string `json:"server_transaction_id"`
}

type SubmitResponse struct {
	CheckoutID  string       `json:"checkout_id"`
	Amount      int64        `json:"amount"`
	Currency    string       `json:"currency"`
	RedirectURL string       `json:"redirect_url,omitempty"`
	ThreeDS     *ThreeDSInfo `json:"threeds,omitempty"`
}

type AuthenticateRequest struct {
	SDKTransactionID   string `json:"sdk_transaction_id"`
	SDKAppID           string `json:"sdk_app_id"`
	SDKReferenceNumber string `json:"sdk_reference_number"`
	DeviceData         string `json:"device_data"`
	EphemeralPublicKey string `json:"ephemeral_public_key"`
	MessageVersion     string `json:"message_version"`
}

// Authentication decisions.
const (
	DecisionFrictionless = "frictionless"
	DecisionChallenge    = "challenge"
	DecisionRejected     = "rejected"
	DecisionRedirect     = "redirect"
)

type AuthenticateResponse struct {
	Decision            string `json:"decision"`
	TransStatus         string `json:"trans_status,omitempty"`
	ECI                 string `json:"eci,omitempty"`
	AuthenticationValue string `json:"authentication_value,omitempty"`
	DSTransactionID     string `json:"ds_transaction_id,omitempty"`
	ACSTransactionID    string `json:"acs_transaction_id,omitempty"`
	ACSReferenceNumber  string `json:"acs_reference_number,omitempty"`
	ACSSignedContent    string `json:"acs_signed_content,omitempty"`
	RedirectURL         string `json:"redirect_url,omitempty"`
	Reason              string `json:"reason,omitempty"`
}

type ChallengeResultRequest struct {
	SDKTransactionID string `json:"sdk_transaction_id"`
	TransStatus      string `json:"trans_status"`
}

type ChallengeResultResponse struct {
	TransStatus         string `json:"trans_status"`
	ECI                 string `json:"eci,omitempty"`
	AuthenticationValue string `json:"authentication_value,omitempty"`
	DSTransactionID     string `json:"ds_transaction_id,omitempty"`
}

// StatusResponse is the provider's record of the checkout's 3DS
// authentication. TransStatus is empty while no authentication finished.
type StatusResponse struct {
	TransStatus         string `json:"trans_status"`
	ECI                 string `json:"eci,omitempty"`
	AuthenticationValue string `json:"authentication_value,omitempty"`
	DSTransactionID     string `json:"ds_transaction_id,omitempty"`
	ResourcePath        string `json:"resource_path,omitempty"`
}

type sessionResponse struct {
	Token string `json:"token"`
}

func (c *Client) Submit(ctx context.Context, cred Credentials, checkoutID string, req SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.post(ctx, cred, "submit", checkoutPath(checkoutID, "threeds"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Authenticate(ctx context.Context, cred Credentials, checkoutID string, req AuthenticateRequest) (*AuthenticateResponse, error) {
	var resp AuthenticateResponse
	if err := c.post(ctx, cred, "authenticate", checkoutPath(checkoutID, "threeds", "authenticate"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ChallengeResult(ctx context.Context, cred Credentials, checkoutID string, req ChallengeResultRequest) (*ChallengeResultResponse, error) {
	var resp ChallengeResultResponse
	if err := c.post(ctx, cred, "challenge-result", checkoutPath(checkoutID, "threeds", "result"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status looks up the authentication outcome recorded by the provider.
// resourcePath is the one handed back on the shopper result redirect, if any.
func (c *Client) Status(ctx context.Context, cred Credentials, checkoutID, resourcePath string) (*StatusResponse, error) {
	path := checkoutPath(checkoutID, "threeds", "status")
	if resourcePath != "" {
		path += "?" + url.Values{"resourcePath": {resourcePath}}.Encode()
	}
	var resp StatusResponse
	if err := c.do(ctx, cred, "status", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Session fetches a web 3DS session token for the checkout and verifies it
// with key.
func (c *Client) Session(ctx context.Context, cred Credentials, checkoutID string, key []byte) (*Session, error) {
	var resp sessionResponse
	if err := c.post(ctx, cred, "session", checkoutPath(checkoutID, "session"), struct{}{}, &resp); err != nil {
		return nil, err
	}
	return VerifySessionToken(resp.Token, key, checkoutID)
}

func checkoutPath(checkoutID string, parts ...string) string {
	return "/v1/checkouts/" + url.PathEscape(checkoutID) + "/" + strings.Join(parts, "/")
}

func (c *Client) post(ctx context.Context, cred Credentials, op, path string, in, out any) error {
	return c.do(ctx, cred, op, http.MethodPost, path, in, out)
}

func (c *Client) do(ctx context.Context, cred Credentials, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	target := strings.TrimRight(cred.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("building %s request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}
	if cred.EntityID != "" {
		req.Header.Set("X-Entity-ID", cred.EntityID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", op, err)
	}
	return nil
}
