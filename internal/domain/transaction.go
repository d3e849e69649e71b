package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Transaction is an immutable payment fact observed on chain.
// It is created once by the ingestion adapter and never mutated.
type Transaction struct {
	Hash        string          `json:"hash"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Amount      decimal.Decimal `json:"amount"`
	BlockHeight int64           `json:"blockHeight"`

	// Timestamp is unix seconds. Monotonic per chain, not per insertion order.
	Timestamp int64 `json:"timestamp"`

	Facilitator        string `json:"facilitator,omitempty"`
	AuthorizationNonce string `json:"authorizationNonce,omitempty"`

	CreatedAt int64 `json:"createdAt"`
}

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// NormalizeAddress validates a hex account address and returns it lowercased.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: malformed address %q", ErrInvalidInput, addr)
	}
	return strings.ToLower(common.HexToAddress(addr).Hex()), nil
}

// NormalizeHash validates a 32-byte transaction hash and returns it lowercased.
func NormalizeHash(hash string) (string, error) {
	hash = strings.TrimSpace(hash)
	if !txHashPattern.MatchString(hash) {
		return "", fmt.Errorf("%w: malformed transaction hash %q", ErrInvalidInput, hash)
	}
	return strings.ToLower(hash), nil
}
