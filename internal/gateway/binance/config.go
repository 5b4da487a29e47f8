package binance

import "time"

const (
	defaultRESTBaseURL    = "https://fapi.binance.com"
	testnetRESTBaseURL    = "https://testnet.binancefuture.com"
	defaultHTTPTimeout    = 15 * time.Second
	defaultFiltersRefresh = time.Hour
)

// Config describes access to the Binance USDⓈ-M futures REST API.
type Config struct {
	APIKey      string
	APISecret   string
	RESTBaseURL string
	Testnet     bool
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string

	// StakeAsset is the margin currency balances are reported in.
	StakeAsset string

	// FiltersRefresh bounds how long exchange-info lot filters are cached.
	FiltersRefresh time.Duration
}

func (c Config) withDefaults() Config {
	if c.RESTBaseURL == "" {
		if c.Testnet {
			c.RESTBaseURL = testnetRESTBaseURL
		} else {
			c.RESTBaseURL = defaultRESTBaseURL
		}
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.StakeAsset == "" {
		c.StakeAsset = "USDT"
	}
	if c.FiltersRefresh <= 0 {
		c.FiltersRefresh = defaultFiltersRefresh
	}
	return c
}
