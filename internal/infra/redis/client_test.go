package redis

import (
	"testing"
)

func TestParseLatest(t *testing.T) {
	p, err := parseLatest(map[string]string{
		"price":        "-123456789012345678901234567890",
		"timestamp":    "1700000000",
		"block_number": "8591400",
		"tx_hash":      "0xabc",
		"log_index":    "4",
	})
	if err != nil {
		t.Fatalf("parseLatest failed: %v", err)
	}
	if p.Price.String() != "-123456789012345678901234567890" {
		t.Errorf("price = %s", p.Price)
	}
	if p.BlockNumber.Uint64() != 8591400 || p.LogIndex != 4 || p.TxHash != "0xabc" {
		t.Errorf("unexpected point: %+v", p)
	}
}

func TestParseLatest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vals map[string]string
	}{
		{"bad price", map[string]string{"price": "x", "timestamp": "1", "block_number": "1"}},
		{"bad timestamp", map[string]string{"price": "1", "timestamp": "", "block_number": "1"}},
		{"bad block", map[string]string{"price": "1", "timestamp": "1", "block_number": "0x1"}},
		{"bad log index", map[string]string{"price": "1", "timestamp": "1", "block_number": "1", "log_index": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseLatest(tt.vals); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLatestKey(t *testing.T) {
	c := newClient(nil, "")
	if got := c.latestKey(); got != "perpkeeper:latest_price" {
		t.Errorf("latestKey() = %s", got)
	}
	c = newClient(nil, "staging")
	if got := c.latestKey(); got != "staging:latest_price" {
		t.Errorf("latestKey() = %s", got)
	}
}
