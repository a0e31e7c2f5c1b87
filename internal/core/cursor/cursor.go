// Package cursor turns the persisted cursor into the block ranges a backfill
// pass has to query.
package cursor

import (
	"errors"
	"math/big"

	"github.com/vietddude/perpkeeper/internal/core/domain"
)

// DefaultStartBlock is the first block worth scanning when the store is empty.
// The perp contract was deployed shortly before it.
const DefaultStartBlock uint64 = 8591308

// DefaultWindow is the block span of a single event query.
const DefaultWindow uint64 = 100

// ErrBadWindow is returned for a zero window size.
var ErrBadWindow = errors.New("window size must be positive")

// Range is an inclusive block range.
type Range struct {
	From uint64
	To   uint64
}

// ResumeFrom returns the first block a backfill pass must scan: start for an
// empty cursor, cursor+1 otherwise.
func ResumeFrom(c domain.Cursor, start uint64) uint64 {
	if c.Empty || c.BlockNumber == nil {
		return start
	}
	next := new(big.Int).Add(c.BlockNumber, big.NewInt(1))
	if !next.IsUint64() {
		return start
	}
	return next.Uint64()
}

// Windows splits [from, head] into consecutive ranges of at most size blocks.
// It returns nil when from > head.
func Windows(from, head, size uint64) ([]Range, error) {
	if size == 0 {
		return nil, ErrBadWindow
	}
	if from > head {
		return nil, nil
	}

	out := make([]Range, 0, (head-from)/size+1)
	for start := from; start <= head; {
		end := head
		if head-start >= size {
			end = start + size - 1
		}
		out = append(out, Range{From: start, To: end})
		if end == head {
			break
		}
		start = end + 1
	}
	return out, nil
}
