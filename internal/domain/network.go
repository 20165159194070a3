package domain

import "strings"

// Network identifies a supported blockchain network.
type Network string

const (
	NetworkEthereum Network = "ethereum"
	NetworkPolygon  Network = "polygon"
	NetworkBase     Network = "base"
	NetworkTron     Network = "tron"
	NetworkSolana   Network = "solana"
)

// Networks lists every supported network.
func Networks() []Network {
	return []Network{NetworkEthereum, NetworkPolygon, NetworkBase, NetworkTron, NetworkSolana}
}

// ParseNetwork normalizes and validates a network name.
func ParseNetwork(s string) (Network, bool) {
	n := Network(strings.ToLower(strings.TrimSpace(s)))
	switch n {
	case NetworkEthereum, NetworkPolygon, NetworkBase, NetworkTron, NetworkSolana:
		return n, true
	}
	return "", false
}

// NativeCurrency returns the network's native coin symbol.
func (n Network) NativeCurrency() string {
	switch n {
	case NetworkEthereum, NetworkBase:
		return "ETH"
	case NetworkPolygon:
		return "MATIC"
	case NetworkTron:
		return "TRX"
	case NetworkSolana:
		return "SOL"
	}
	return ""
}

// IsStablecoin reports whether a currency is priced 1:1 with USD.
func IsStablecoin(currency string) bool {
	switch strings.ToUpper(currency) {
	case "USDT", "USDC":
		return true
	}
	return false
}
