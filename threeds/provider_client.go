package threeds

import (
	"context"
	"fmt"

	"github.com/alovak/threeds-flow/internal/providerapi"
	"github.com/alovak/threeds-flow/threeds/models"
)

// ProviderClient adapts the provider HTTP API to the Authenticator and
// SessionSource capabilities.
type ProviderClient struct {
	api *providerapi.Client
}

func NewProviderClient(api *providerapi.Client) *ProviderClient {
	if api == nil {
		api = providerapi.New(nil)
	}
	return &ProviderClient{api: api}
}

// Submit sends params to the provider and copies the returned checkout data
// (amount, 3DS server data, redirect URL) onto tx.
func (c *ProviderClient) Submit(ctx context.Context, p *Provider, tx *models.Transaction) error {
	params := tx.Params()
	td := params.ThreeDS()
	req := providerapi.SubmitRequest{
		Brand:            params.Brand(),
		DeviceChannel:    td.DeviceChannel,
		AppFlow:          td.AppFlow,
		ShopperResultURL: shopperResultURL(params, p),
		SessionToken:     td.SessionToken,
	}
	if card, ok := params.Card(); ok {
		req.Card = &providerapi.Card{Holder: card.Holder, Number: card.Number, ExpiryYYMM: card.ExpiryYYMM, CVV: card.CVV}
	}

	resp, err := c.api.Submit(ctx, p.credentials(), params.CheckoutID(), req)
	if err != nil {
		return fmt.Errorf("submitting checkout %s: %w", params.CheckoutID(), err)
	}
	var info models.AuthenticationInfo
	if resp.ThreeDS != nil {
		info = models.AuthenticationInfo{
			DirectoryServerID:   resp.ThreeDS.DirectoryServerID,
			ProtocolVersion:     resp.ThreeDS.ProtocolVersion,
			ServerTransactionID: resp.ThreeDS.ServerTransactionID,
		}
	}
	tx.ApplyCheckout(resp.Amount, resp.Currency, info, resp.RedirectURL)
	return nil
}

func (c *ProviderClient) Authenticate(ctx context.Context, p *Provider, tx *models.Transaction, req AuthRequestParameters) (*AuthenticationResponse, error) {
	resp, err := c.api.Authenticate(ctx, p.credentials(), tx.Params().CheckoutID(), providerapi.AuthenticateRequest{
		SDKTransactionID:   req.SDKTransactionID,
		SDKAppID:           req.SDKAppID,
		SDKReferenceNumber: req.SDKReferenceNumber,
		DeviceData:         req.DeviceData,
		EphemeralPublicKey: req.EphemeralPublicKey,
		MessageVersion:     req.MessageVersion,
	})
	if err != nil {
		return nil, err
	}

	out := &AuthenticationResponse{
		Decision:    Decision(resp.Decision),
		RedirectURL: resp.RedirectURL,
		Reason:      resp.Reason,
		Challenge: ChallengeParameters{
			ServerTransactionID: tx.ThreeDS.ServerTransactionID,
			ACSTransactionID:    resp.ACSTransactionID,
			ACSReferenceNumber:  resp.ACSReferenceNumber,
			ACSSignedContent:    resp.ACSSignedContent,
		},
	}
	if resp.TransStatus != "" {
		out.Authentication = &models.Authentication{
			TransStatus:         resp.TransStatus,
			ECI:                 resp.ECI,
			AuthenticationValue: resp.AuthenticationValue,
			DSTransactionID:     resp.DSTransactionID,
			ProtocolVersion:     tx.ThreeDS.ProtocolVersion,
		}
	}
	return out, nil
}

func (c *ProviderClient) ChallengeResult(ctx context.Context, p *Provider, tx *models.Transaction, outcome ChallengeOutcome) (*models.Authentication, error) {
	resp, err := c.api.ChallengeResult(ctx, p.credentials(), tx.Params().CheckoutID(), providerapi.ChallengeResultRequest{
		SDKTransactionID: outcome.SDKTransactionID,
		TransStatus:      outcome.TransStatus,
	})
	if err != nil {
		return nil, err
	}
	return &models.Authentication{
		TransStatus:         resp.TransStatus,
		ECI:                 resp.ECI,
		AuthenticationValue: resp.AuthenticationValue,
		DSTransactionID:     resp.DSTransactionID,
		ProtocolVersion:     tx.ThreeDS.ProtocolVersion,
	}, nil
}

func (c *ProviderClient) PaymentStatus(ctx context.Context, p *Provider, tx *models.Transaction, resourcePath string) (*models.Authentication, error) {
	resp, err := c.api.Status(ctx, p.credentials(), tx.Params().CheckoutID(), resourcePath)
	if err != nil {
		return nil, err
	}
	path := resp.ResourcePath
	if path == "" {
		path = resourcePath
	}
	return &models.Authentication{
		TransStatus:         resp.TransStatus,
		ECI:                 resp.ECI,
		AuthenticationValue: resp.AuthenticationValue,
		DSTransactionID:     resp.DSTransactionID,
		ProtocolVersion:     tx.ThreeDS.ProtocolVersion,
		ResourcePath:        path,
	}, nil
}

func (c *ProviderClient) Session(ctx context.Context, p *Provider, checkoutID string) (*providerapi.Session, error) {
	return c.api.Session(ctx, p.credentials(), checkoutID, p.SessionTokenKey())
}

func shopperResultURL(params *models.PaymentParams, p *Provider) string {
	if u := params.ShopperResultURL(); u != "" {
		return u
	}
	return p.ShopperResultURL()
}
