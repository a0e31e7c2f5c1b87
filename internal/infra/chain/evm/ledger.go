package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vietddude/perpkeeper/internal/core/domain"
)

// Ledger reads and writes the perp contract over HTTP JSON-RPC.
type Ledger struct {
	cfg      Config
	client   *ethclient.Client
	contract *bind.BoundContract
	auth     *bind.TransactOpts
	address  common.Address
	log      *slog.Logger
}

// NewLedger dials the HTTP endpoint and prepares the signer.
// A malformed key or address fails immediately.
func NewLedger(ctx context.Context, cfg Config, log *slog.Logger) (*Ledger, error) {
	if log == nil {
		log = slog.Default()
	}

	address, err := cfg.Address()
	if err != nil {
		return nil, err
	}
	key, err := cfg.Key()
	if err != nil {
		return nil, err
	}
	parsed, err := ParseABI()
	if err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, cfg.HTTPURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.HTTPURL, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to fetch chain id: %w", err)
		}
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	l := &Ledger{
		cfg:      cfg,
		client:   client,
		contract: bind.NewBoundContract(address, parsed, client, client, client),
		auth:     auth,
		address:  address,
		log:      log.With("component", "ledger"),
	}
	l.log.Info("Ledger ready",
		"contract", address.Hex(), "keeper", auth.From.Hex(), "chain_id", chainID)
	return l, nil
}

// LastFundingTime reads lastFundingTime() in seconds.
func (l *Ledger) LastFundingTime(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.callTimeout())
	defer cancel()

	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodLastFundingTime); err != nil {
		return nil, fmt.Errorf("%s call failed: %w", methodLastFundingTime, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no value", methodLastFundingTime)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// SubmitFundingExecution sends executeFundingRateMechanism() and waits for
// the receipt. A transaction that could not be sent or mined is reported as
// ReceiptSubmissionFailed together with the error.
func (l *Ledger) SubmitFundingExecution(ctx context.Context) (domain.FundingReceipt, error) {
	opts := *l.auth
	opts.Context = ctx

	tx, err := l.contract.Transact(&opts, methodExecuteFunding)
	if err != nil {
		return domain.FundingReceipt{Status: domain.ReceiptSubmissionFailed},
			fmt.Errorf("%s submission failed: %w", methodExecuteFunding, err)
	}
	l.log.Debug("Funding transaction sent", "tx", tx.Hash().Hex(), "nonce", tx.Nonce())

	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.confirmTimeout())
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, l.client, tx)
	if err != nil {
		return domain.FundingReceipt{Status: domain.ReceiptSubmissionFailed, TxHash: tx.Hash().Hex()},
			fmt.Errorf("waiting for %s: %w", tx.Hash().Hex(), err)
	}

	return receiptFrom(receipt), nil
}

// BlockNumber returns the latest block height.
func (l *Ledger) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.callTimeout())
	defer cancel()
	return l.client.BlockNumber(ctx)
}

// Keeper returns the address that signs funding transactions.
func (l *Ledger) Keeper() common.Address {
	return l.auth.From
}

// Close closes the RPC connection.
func (l *Ledger) Close() {
	l.client.Close()
}

func receiptFrom(r *types.Receipt) domain.FundingReceipt {
	out := domain.FundingReceipt{
		Status:  domain.ReceiptReverted,
		TxHash:  r.TxHash.Hex(),
		GasUsed: r.GasUsed,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	if r.Status == types.ReceiptStatusSuccessful {
		out.Status = domain.ReceiptConfirmed
	}
	return out
}
