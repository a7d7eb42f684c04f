package threeds

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/alovak/threeds-flow/internal/brand"
	"github.com/alovak/threeds-flow/internal/providerapi"
	"golang.org/x/exp/slices"
)

type Mode string

const (
	ModeTest Mode = "TEST"
	ModeLive Mode = "LIVE"
)

const (
	DefaultChallengeTimeout = 10 * time.Minute

	// DefaultNetworkCompletionPattern matches the acknowledgement redirect
	// sent by the MPGS network once a challenge finished out of band.
	DefaultNetworkCompletionPattern = `(?i)/threeDS(?:ecure)?/mpgs/completion(?:[/?#]|$)`
)

var ErrInvalidProvider = errors.New("invalid provider configuration")

// ProviderConfig is the mutable input for NewProvider.
type ProviderConfig struct {
	Mode                     Mode
	EntityID                 string
	AccessToken              string
	BaseURL                  string
	NativeThreeDS            bool
	WebOnlyBrands            []string
	ShopperResultURL         string
	SessionTokenKey          []byte
	ChallengeTimeout         time.Duration
	NetworkCompletionPattern string
}

// Provider is the merchant and session configuration borrowed by every
// operation. It is immutable and safe for concurrent reads.
type Provider struct {
	mode             Mode
	entityID         string
	accessToken      string
	baseURL          string
	nativeThreeDS    bool
	webOnlyBrands    []string
	shopperResultURL string
	sessionTokenKey  []byte
	challengeTimeout time.Duration
	networkComplete  *regexp.Regexp
}

func NewProvider(cfg ProviderConfig) (*Provider, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeTest
	}
	if mode != ModeTest && mode != ModeLive {
		return nil, fmt.Errorf("%w: mode %q", ErrInvalidProvider, cfg.Mode)
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%w: base url %q", ErrInvalidProvider, cfg.BaseURL)
		}
	}
	if cfg.ShopperResultURL != "" {
		u, err := url.Parse(cfg.ShopperResultURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%w: shopper result url %q", ErrInvalidProvider, cfg.ShopperResultURL)
		}
	}

	timeout := cfg.ChallengeTimeout
	if timeout <= 0 {
		timeout = DefaultChallengeTimeout
	}
	pattern := cfg.NetworkCompletionPattern
	if pattern == "" {
		pattern = DefaultNetworkCompletionPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: network completion pattern: %v", ErrInvalidProvider, err)
	}

	webOnly := make([]string, 0, len(cfg.WebOnlyBrands))
	for _, b := range cfg.WebOnlyBrands {
		if b = strings.TrimSpace(b); b != "" {
			webOnly = append(webOnly, b)
		}
	}

	return &Provider{
		mode:             mode,
		entityID:         cfg.EntityID,
		accessToken:      cfg.AccessToken,
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		nativeThreeDS:    cfg.NativeThreeDS,
		webOnlyBrands:    webOnly,
		shopperResultURL: cfg.ShopperResultURL,
		sessionTokenKey:  append([]byte(nil), cfg.SessionTokenKey...),
		challengeTimeout: timeout,
		networkComplete:  re,
	}, nil
}

func (p *Provider) Mode() Mode                      { return p.mode }
func (p *Provider) EntityID() string                { return p.entityID }
func (p *Provider) BaseURL() string                 { return p.baseURL }
func (p *Provider) SupportsNativeThreeDS() bool     { return p.nativeThreeDS }
func (p *Provider) ShopperResultURL() string        { return p.shopperResultURL }
func (p *Provider) ChallengeTimeout() time.Duration { return p.challengeTimeout }

func (p *Provider) SessionTokenKey() []byte {
	return append([]byte(nil), p.sessionTokenKey...)
}

// IsWebOnlyBrand reports whether the provider or the card network requires a
// web challenge for b.
func (p *Provider) IsWebOnlyBrand(b string) bool {
	return brand.IsWebOnlyBrand(b) || slices.Contains(p.webOnlyBrands, b)
}

// IsNetworkCompletion reports whether rawURL is the network acknowledgement
// redirect that ends a web challenge.
func (p *Provider) IsNetworkCompletion(rawURL string) bool {
	return p.networkComplete.MatchString(rawURL)
}

func (p *Provider) credentials() providerapi.Credentials {
	return providerapi.Credentials{
		BaseURL:     p.baseURL,
		EntityID:    p.entityID,
		AccessToken: p.accessToken,
	}
}
