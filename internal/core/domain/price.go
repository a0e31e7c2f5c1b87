package domain

import (
	"fmt"
	"math/big"
)

// PricePoint is one observed PerpPriceUpdated event.
// Price and Timestamp are the raw int256 values emitted by the contract;
// Timestamp is in seconds.
type PricePoint struct {
	Price       *big.Int
	Timestamp   *big.Int
	BlockNumber *big.Int

	// Event identity, empty for rows created without a source log.
	TxHash   string
	LogIndex uint
}

// NewPricePoint builds a PricePoint from plain block coordinates.
func NewPricePoint(price, timestamp *big.Int, blockNumber uint64) PricePoint {
	return PricePoint{
		Price:       price,
		Timestamp:   timestamp,
		BlockNumber: new(big.Int).SetUint64(blockNumber),
	}
}

// HasIdentity reports whether the point carries a source log identity.
func (p PricePoint) HasIdentity() bool {
	return p.TxHash != ""
}

// Validate rejects points with missing fields.
func (p PricePoint) Validate() error {
	if p.Price == nil || p.Timestamp == nil || p.BlockNumber == nil {
		return fmt.Errorf("price point missing fields: %s", p)
	}
	if p.BlockNumber.Sign() < 0 {
		return fmt.Errorf("negative block number: %s", p.BlockNumber)
	}
	return nil
}

func (p PricePoint) String() string {
	return fmt.Sprintf("price=%s timestamp=%s block=%s", p.Price, p.Timestamp, p.BlockNumber)
}

// Less orders points by block number, then log index.
func (p PricePoint) Less(o PricePoint) bool {
	if c := p.BlockNumber.Cmp(o.BlockNumber); c != 0 {
		return c < 0
	}
	return p.LogIndex < o.LogIndex
}

// PriceSample is the public projection served by the query API.
type PriceSample struct {
	Price     string `json:"price"`
	Timestamp string `json:"timestamp"`
}

// Sample returns the decimal-string projection of p.
func (p PricePoint) Sample() PriceSample {
	return PriceSample{
		Price:     p.Price.String(),
		Timestamp: p.Timestamp.String(),
	}
}
