package domain

import (
	"math"
	"math/big"
	"time"
)

// ErrorKind tells connectivity failures apart from configuration failures in a sample.
type ErrorKind string

const (
	ErrorKindNone          ErrorKind = ""
	ErrorKindConnectivity  ErrorKind = "connectivity"
	ErrorKindConfiguration ErrorKind = "configuration"
)

// SyncStatus is the node's sync progress when it reports syncing.
type SyncStatus struct {
	StartingBlock uint64 `json:"starting_block"`
	CurrentBlock  uint64 `json:"current_block"`
	HighestBlock  uint64 `json:"highest_block"`
	Progress      int    `json:"progress"` // percent, 0-100
}

// HealthSample is the immutable result of one probe attempt.
type HealthSample struct {
	EndpointID   string      `json:"endpoint_id"`
	Timestamp    time.Time   `json:"timestamp"`
	Online       bool        `json:"online"`
	ResponseTime int64       `json:"response_time_ms"`
	ChainID      uint64      `json:"chain_id"`
	BlockNumber  uint64      `json:"block_number"`
	PeerCount    uint64      `json:"peer_count"`
	GasPrice     *big.Int    `json:"gas_price,omitempty"`
	Syncing      bool        `json:"syncing"`
	Sync         *SyncStatus `json:"sync,omitempty"`
	Error        string      `json:"error,omitempty"`
	ErrorKind    ErrorKind   `json:"error_kind,omitempty"`
}

// SyncProgress returns round(current/highest*100), or 0 when highest is 0.
func SyncProgress(current, highest uint64) int {
	if highest == 0 {
		return 0
	}
	return int(math.Round(float64(current) / float64(highest) * 100))
}
