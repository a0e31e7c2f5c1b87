package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/vietddude/perpkeeper/internal/core/domain"
	"github.com/vietddude/perpkeeper/internal/infra/storage"
)

const insertPriceQuery = `
	INSERT INTO perp_prices (perp_price, timestamp, block_number, tx_hash, log_index)
	VALUES (CAST(:perp_price AS NUMERIC), CAST(:timestamp AS NUMERIC), CAST(:block_number AS NUMERIC),
	        :tx_hash, :log_index)
	ON CONFLICT (tx_hash, log_index) DO NOTHING
`

// PriceRepo implements storage.PriceStore using PostgreSQL.
type PriceRepo struct {
	db *DB
}

// NewPriceRepo creates a new PostgreSQL price repository.
func NewPriceRepo(db *DB) *PriceRepo {
	return &PriceRepo{db: db}
}

// priceRow mirrors a perp_prices row. Numeric columns travel as text so
// int256 values survive without precision loss.
type priceRow struct {
	ID          int64          `db:"id"`
	PerpPrice   string         `db:"perp_price"`
	Timestamp   string         `db:"timestamp"`
	BlockNumber string         `db:"block_number"`
	TxHash      sql.NullString `db:"tx_hash"`
	LogIndex    sql.NullInt64  `db:"log_index"`
}

func newPriceRow(p domain.PricePoint) priceRow {
	row := priceRow{
		PerpPrice:   p.Price.String(),
		Timestamp:   p.Timestamp.String(),
		BlockNumber: p.BlockNumber.String(),
	}
	if p.HasIdentity() {
		row.TxHash = sql.NullString{String: p.TxHash, Valid: true}
		row.LogIndex = sql.NullInt64{Int64: int64(p.LogIndex), Valid: true}
	}
	return row
}

func (r priceRow) toDomain() (domain.PricePoint, error) {
	price, ok := new(big.Int).SetString(r.PerpPrice, 10)
	if !ok {
		return domain.PricePoint{}, fmt.Errorf("row %d: bad perp_price %q", r.ID, r.PerpPrice)
	}
	ts, ok := new(big.Int).SetString(r.Timestamp, 10)
	if !ok {
		return domain.PricePoint{}, fmt.Errorf("row %d: bad timestamp %q", r.ID, r.Timestamp)
	}
	block, ok := new(big.Int).SetString(r.BlockNumber, 10)
	if !ok {
		return domain.PricePoint{}, fmt.Errorf("row %d: bad block_number %q", r.ID, r.BlockNumber)
	}

	p := domain.PricePoint{Price: price, Timestamp: ts, BlockNumber: block}
	if r.TxHash.Valid {
		p.TxHash = r.TxHash.String
		p.LogIndex = uint(r.LogIndex.Int64)
	}
	return p, nil
}

// InsertRow appends a price point. Replayed events are ignored.
func (r *PriceRepo) InsertRow(ctx context.Context, p domain.PricePoint) error {
	if err := p.Validate(); err != nil {
		return err
	}

	if _, err := r.db.NamedExecContext(ctx, insertPriceQuery, newPriceRow(p)); err != nil {
		return fmt.Errorf("failed to insert price point: %w", err)
	}
	return nil
}

// SelectMostRecentBlockNumber returns the block number of the last inserted row.
func (r *PriceRepo) SelectMostRecentBlockNumber(ctx context.Context) (*big.Int, bool, error) {
	var raw string
	err := r.db.GetContext(ctx, &raw,
		`SELECT block_number::text FROM perp_prices ORDER BY id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get latest block number: %w", err)
	}

	block, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, false, fmt.Errorf("bad block_number %q", raw)
	}
	return block, true, nil
}

// SelectPage returns up to size rows after skipping skip rows, newest first.
func (r *PriceRepo) SelectPage(ctx context.Context, skip, size int64) ([]domain.PricePoint, error) {
	if err := storage.ValidatePage(skip, size); err != nil {
		return nil, err
	}

	var rows []priceRow
	query := `
		SELECT id, perp_price::text AS perp_price, timestamp::text AS timestamp,
		       block_number::text AS block_number, tx_hash, log_index
		FROM perp_prices
		ORDER BY id DESC
		LIMIT $1 OFFSET $2
	`
	if err := r.db.SelectContext(ctx, &rows, query, size, skip); err != nil {
		return nil, fmt.Errorf("failed to select page: %w", err)
	}

	out := make([]domain.PricePoint, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Count returns the number of stored rows.
func (r *PriceRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM perp_prices`); err != nil {
		return 0, fmt.Errorf("failed to count price points: %w", err)
	}
	return n, nil
}
