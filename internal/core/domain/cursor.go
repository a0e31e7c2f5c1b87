package domain

import "math/big"

// Cursor is the highest persisted block number.
// Empty means the store holds no rows, which is different from a failed lookup.
type Cursor struct {
	BlockNumber *big.Int
	Empty       bool
}

// EmptyCursor returns the cursor of an empty store.
func EmptyCursor() Cursor {
	return Cursor{Empty: true}
}

// CursorAt returns a cursor positioned at block.
func CursorAt(block *big.Int) Cursor {
	return Cursor{BlockNumber: new(big.Int).Set(block)}
}

func (c Cursor) String() string {
	if c.Empty || c.BlockNumber == nil {
		return "empty"
	}
	return c.BlockNumber.String()
}
