package types

import (
	"fmt"
	"net/url"
	"strings"
)

// Network selects which payment API environment a client talks to.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// Base URLs of the hosted API per network.
const (
	MainnetBaseURL = "https://api.cryptopay.dev/v1"
	TestnetBaseURL = "https://sandbox.cryptopay.dev/v1"
)

// BaseURL returns the HTTP base URL for the network.
func (n Network) BaseURL() string {
	if n == NetworkTestnet {
		return TestnetBaseURL
	}
	return MainnetBaseURL
}

func (n Network) IsTestnet() bool {
	return n == NetworkTestnet
}

func (n Network) String() string {
	return string(n)
}

// ChainFamily classifies a settlement chain by address format.
type ChainFamily string

const (
	ChainEVM     ChainFamily = "evm"
	ChainBitcoin ChainFamily = "bitcoin"
	ChainSolana  ChainFamily = "solana"
)

// Currency is a ticker accepted by the payment API.
type Currency string

const (
	CurrencyBTC   Currency = "BTC"
	CurrencyETH   Currency = "ETH"
	CurrencyUSDC  Currency = "USDC"
	CurrencyUSDT  Currency = "USDT"
	CurrencyMATIC Currency = "MATIC"
	CurrencySOL   Currency = "SOL"
)

// Family returns the chain family whose address format the currency uses.
func (c Currency) Family() (ChainFamily, bool) {
	switch c {
	case CurrencyETH, CurrencyUSDC, CurrencyUSDT, CurrencyMATIC:
		return ChainEVM, true
	case CurrencyBTC:
		return ChainBitcoin, true
	case CurrencySOL:
		return ChainSolana, true
	default:
		return "", false
	}
}

// WebsocketURL derives the event endpoint from an HTTP base URL:
// http becomes ws, https becomes wss, and "/ws" is appended to the path.
func WebsocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}
