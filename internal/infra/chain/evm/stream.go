package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"

	"github.com/vietddude/perpkeeper/internal/core/domain"
)

// Stream is a websocket connection to the node used for event ingestion.
type Stream struct {
	cfg      Config
	client   *ethclient.Client
	abi      abi.ABI
	address  common.Address
	contract *bind.BoundContract
	log      *slog.Logger
}

// DialStream opens a websocket connection.
func DialStream(ctx context.Context, cfg Config, log *slog.Logger) (*Stream, error) {
	if log == nil {
		log = slog.Default()
	}
	address, err := cfg.Address()
	if err != nil {
		return nil, err
	}
	parsed, err := ParseABI()
	if err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, cfg.WSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.WSURL, err)
	}

	return &Stream{
		cfg:      cfg,
		client:   client,
		abi:      parsed,
		address:  address,
		contract: bind.NewBoundContract(address, parsed, client, client, client),
		log:      log.With("component", "stream"),
	}, nil
}

// BlockNumber returns the latest block height.
func (s *Stream) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.callTimeout())
	defer cancel()
	return s.client.BlockNumber(ctx)
}

// QueryEvents returns PerpPriceUpdated events in [from, to], in log order.
func (s *Stream) QueryEvents(ctx context.Context, from, to uint64) ([]domain.PricePoint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.callTimeout())
	defer cancel()

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.address},
		Topics:    [][]common.Hash{{s.abi.Events[eventPriceUpdated].ID}},
	}
	logs, err := s.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs [%d, %d] failed: %w", from, to, err)
	}

	out := make([]domain.PricePoint, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		p, err := decodePriceLog(s.abi, l)
		if err != nil {
			return nil, fmt.Errorf("block %d log %d: %w", l.BlockNumber, l.Index, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Subscribe forwards live PerpPriceUpdated events to sink. The returned
// subscription's Err channel reports a dropped connection.
func (s *Stream) Subscribe(ctx context.Context, sink chan<- domain.PricePoint) (ethereum.Subscription, error) {
	logs, sub, err := s.contract.WatchLogs(&bind.WatchOpts{Context: ctx}, eventPriceUpdated)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", eventPriceUpdated, err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case l := <-logs:
				if l.Removed {
					continue
				}
				p, err := decodePriceLog(s.abi, l)
				if err != nil {
					s.log.Warn("Skipping undecodable log", "tx", l.TxHash.Hex(), "error", err)
					continue
				}
				select {
				case sink <- p:
				case err := <-sub.Err():
					return err
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

// Close closes the websocket connection.
func (s *Stream) Close() {
	s.client.Close()
}
