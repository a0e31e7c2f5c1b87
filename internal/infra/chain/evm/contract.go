package evm

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/perpkeeper/internal/core/domain"
)

// PerpABI is the subset of the perp contract ABI the keeper touches.
const PerpABI = `[
	{"inputs":[],"name":"executeFundingRateMechanism","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"lastFundingTime","outputs":[{"internalType":"int256","name":"","type":"int256"}],"stateMutability":"view","type":"function"},
	{"anonymous":false,"inputs":[
		{"indexed":false,"internalType":"int256","name":"newPrice","type":"int256"},
		{"indexed":false,"internalType":"int256","name":"timestamp","type":"int256"}
	],"name":"PerpPriceUpdated","type":"event"}
]`

const (
	methodExecuteFunding  = "executeFundingRateMechanism"
	methodLastFundingTime = "lastFundingTime"
	eventPriceUpdated     = "PerpPriceUpdated"
)

// ErrEventNotFound is returned when a log is not a PerpPriceUpdated event.
var ErrEventNotFound = errors.New("log is not a PerpPriceUpdated event")

// ParseABI parses PerpABI.
func ParseABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(PerpABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse perp ABI: %w", err)
	}
	return parsed, nil
}

type priceUpdated struct {
	NewPrice  *big.Int
	Timestamp *big.Int
}

// decodePriceLog converts a PerpPriceUpdated log into a PricePoint.
func decodePriceLog(parsed abi.ABI, log types.Log) (domain.PricePoint, error) {
	ev, ok := parsed.Events[eventPriceUpdated]
	if !ok {
		return domain.PricePoint{}, ErrEventNotFound
	}
	if len(log.Topics) == 0 || log.Topics[0] != ev.ID {
		return domain.PricePoint{}, ErrEventNotFound
	}

	var out priceUpdated
	if err := parsed.UnpackIntoInterface(&out, eventPriceUpdated, log.Data); err != nil {
		return domain.PricePoint{}, fmt.Errorf("failed to unpack %s: %w", eventPriceUpdated, err)
	}

	p := domain.NewPricePoint(out.NewPrice, out.Timestamp, log.BlockNumber)
	p.TxHash = log.TxHash.Hex()
	p.LogIndex = log.Index
	return p, nil
}
