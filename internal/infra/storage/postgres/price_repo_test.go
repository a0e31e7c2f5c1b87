package postgres

import (
	"context"
	"database/sql"
	"math/big"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/perpkeeper/internal/core/domain"
)

func TestInsertPriceQuery_Binds(t *testing.T) {
	p := domain.NewPricePoint(big.NewInt(-42), big.NewInt(1_700_000_000), 8591308)
	p.TxHash = "0xdeadbeef"
	p.LogIndex = 3

	query, args, err := sqlx.Named(insertPriceQuery, newPriceRow(p))
	if err != nil {
		t.Fatalf("named query failed to compile: %v", err)
	}
	if strings.Contains(query, ":perp_price") {
		t.Errorf("named parameters were not bound: %s", query)
	}
	if len(args) != 5 {
		t.Fatalf("got %d args, want 5", len(args))
	}
	if args[0] != "-42" || args[2] != "8591308" {
		t.Errorf("unexpected args: %v", args)
	}
}

func TestPriceRow_ToDomain(t *testing.T) {
	huge, _ := new(big.Int).SetString("57896044618658097711785492504343953926634992332820282019728792003956564819967", 10)
	row := priceRow{
		ID:          7,
		PerpPrice:   huge.String(),
		Timestamp:   "1700000000",
		BlockNumber: "8591400",
		TxHash:      sql.NullString{String: "0xabc", Valid: true},
		LogIndex:    sql.NullInt64{Int64: 1, Valid: true},
	}

	p, err := row.toDomain()
	if err != nil {
		t.Fatalf("toDomain failed: %v", err)
	}
	if p.Price.Cmp(huge) != 0 {
		t.Errorf("price lost precision: %s", p.Price)
	}
	if p.TxHash != "0xabc" || p.LogIndex != 1 {
		t.Errorf("identity not carried: %+v", p)
	}

	row.Timestamp = "not-a-number"
	if _, err := row.toDomain(); err == nil {
		t.Error("expected error for malformed timestamp")
	}
}

func TestNewDB_UnsupportedDriver(t *testing.T) {
	_, err := NewDB(context.Background(), Config{Driver: "mysql", URL: "root@/db"})
	if err == nil || !strings.Contains(err.Error(), "unsupported database driver") {
		t.Errorf("expected unsupported driver error, got %v", err)
	}
}
