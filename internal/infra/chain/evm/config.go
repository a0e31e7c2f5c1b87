package evm

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Config holds ledger connection settings.
type Config struct {
	HTTPURL         string        `yaml:"http_url"`
	WSURL           string        `yaml:"ws_url"`
	PrivateKey      string        `yaml:"private_key"`
	ContractAddress string        `yaml:"contract_address"`
	ChainID         int64         `yaml:"chain_id"` // 0 = ask the node
	ConfirmTimeout  time.Duration `yaml:"confirm_timeout"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
}

// Address parses the contract address.
func (c Config) Address() (common.Address, error) {
	if !common.IsHexAddress(c.ContractAddress) {
		return common.Address{}, fmt.Errorf("invalid contract address %q", c.ContractAddress)
	}
	return common.HexToAddress(c.ContractAddress), nil
}

// Key parses the signing key. A 0x prefix is accepted.
func (c Config) Key() (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(c.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

func (c Config) confirmTimeout() time.Duration {
	if c.ConfirmTimeout > 0 {
		return c.ConfirmTimeout
	}
	return 5 * time.Minute
}

func (c Config) callTimeout() time.Duration {
	if c.CallTimeout > 0 {
		return c.CallTimeout
	}
	return 30 * time.Second
}
