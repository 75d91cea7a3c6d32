package rails

import (
	"fmt"
	"net/http"
	"time"

	"github.com/roach88/railverify/internal/verify"
)

// Secrets holds endpoint and credential material that only ever comes from
// process configuration, never from rail rows.
type Secrets struct {
	// EVMRPCURLs overrides a rail row's rpc_url per chain id. Provider URLs
	// often embed an API key.
	EVMRPCURLs map[int64]string

	BTCRPCURL  string
	BTCRPCUser string
	BTCRPCPass string

	XRPLRPCURL string

	PiAPIBase string
	PiAPIKey  string
}

// Options configures a Registry.
type Options struct {
	Secrets            Secrets
	SupportedChains    []int64
	RequestTimeout     time.Duration
	XRPLStrictDepth    bool
	PiStrictCompletion bool
	HTTPClient         *http.Client
}

// DefaultSupportedChains are Ethereum mainnet, Base and Polygon.
var DefaultSupportedChains = []int64{1, 8453, 137}

// ConfigError reports a rail that cannot be built because process
// configuration lacks an endpoint or credential.
type ConfigError struct {
	Rail    verify.Rail
	Missing string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("rail %s: missing %s", e.Rail, e.Missing)
}

// Registry builds verifiers from rail configuration rows.
type Registry struct {
	opts Options
}

// NewRegistry returns a Registry. A nil SupportedChains uses
// DefaultSupportedChains.
func NewRegistry(opts Options) *Registry {
	if opts.SupportedChains == nil {
		opts.SupportedChains = DefaultSupportedChains
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	return &Registry{opts: opts}
}

// Build returns the verifier for cfg. Unknown rails wrap
// verify.ErrUnknownRail; missing secrets return *ConfigError.
func (r *Registry) Build(cfg verify.RailConfig) (verify.Verifier, error) {
	s := r.opts.Secrets

	switch cfg.Rail {
	case verify.RailETH:
		endpoints := map[int64]string{}
		if cfg.ChainID != nil {
			url := s.EVMRPCURLs[*cfg.ChainID]
			if url == "" {
				url = cfg.RPCURL
			}
			endpoints[*cfg.ChainID] = url
		}
		return NewEVMVerifier(EVMConfig{
			SupportedChains: r.opts.SupportedChains,
			Endpoints:       endpoints,
			Timeout:         r.opts.RequestTimeout,
			HTTPClient:      r.opts.HTTPClient,
		}), nil

	case verify.RailBTC:
		url := firstNonEmpty(cfg.RPCURL, s.BTCRPCURL)
		if url == "" {
			return nil, &ConfigError{Rail: cfg.Rail, Missing: "btc.rpc_url"}
		}
		return NewBitcoinVerifier(BitcoinConfig{
			URL:        url,
			User:       s.BTCRPCUser,
			Password:   s.BTCRPCPass,
			Timeout:    r.opts.RequestTimeout,
			HTTPClient: r.opts.HTTPClient,
		}), nil

	case verify.RailXRP:
		url := firstNonEmpty(s.XRPLRPCURL, cfg.RPCURL)
		if url == "" {
			return nil, &ConfigError{Rail: cfg.Rail, Missing: "xrp.rpc_url"}
		}
		return NewXRPLVerifier(XRPLConfig{
			URL:         url,
			StrictDepth: r.opts.XRPLStrictDepth,
			Timeout:     r.opts.RequestTimeout,
			HTTPClient:  r.opts.HTTPClient,
		}), nil

	case verify.RailPi:
		base := firstNonEmpty(s.PiAPIBase, cfg.RPCURL)
		if base == "" {
			return nil, &ConfigError{Rail: cfg.Rail, Missing: "pi.api_base"}
		}
		if s.PiAPIKey == "" {
			return nil, &ConfigError{Rail: cfg.Rail, Missing: "pi.api_key"}
		}
		return NewPiVerifier(PiConfig{
			BaseURL:          base,
			APIKey:           s.PiAPIKey,
			StrictCompletion: r.opts.PiStrictCompletion,
			Timeout:          r.opts.RequestTimeout,
			HTTPClient:       r.opts.HTTPClient,
		}), nil

	default:
		return nil, fmt.Errorf("%w: %q", verify.ErrUnknownRail, cfg.Rail)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
