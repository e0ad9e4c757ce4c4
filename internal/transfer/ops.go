package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"tokensend/internal/batcher"
	"tokensend/internal/jsonrpc"
)

const defaultBlock = "latest"

var (
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	hashPattern    = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	rawTxPattern   = regexp.MustCompile(`^0x([0-9a-fA-F]{2})+$`)
)

// ChainID returns the chain id reported by the network
func (s *Service) ChainID(ctx context.Context) (uint64, error) {
	return s.quantity(ctx, "eth_chainId", nil)
}

// BlockNumber returns the latest block number
func (s *Service) BlockNumber(ctx context.Context) (uint64, error) {
	return s.quantity(ctx, "eth_blockNumber", nil)
}

// Balance returns the wei balance of address at block ("latest" when empty)
func (s *Service) Balance(ctx context.Context, address, block string) (*big.Int, error) {
	if err := validateAddress(address); err != nil {
		return nil, err
	}
	return s.bigQuantity(ctx, "eth_getBalance", []interface{}{address, blockOrLatest(block)})
}

// Nonce returns the transaction count of address at block ("latest" when empty)
func (s *Service) Nonce(ctx context.Context, address, block string) (uint64, error) {
	if err := validateAddress(address); err != nil {
		return 0, err
	}
	return s.quantity(ctx, "eth_getTransactionCount", []interface{}{address, blockOrLatest(block)})
}

// GasPrice returns the current gas price in wei
func (s *Service) GasPrice(ctx context.Context) (*big.Int, error) {
	return s.bigQuantity(ctx, "eth_gasPrice", nil)
}

// SendRawTransaction broadcasts a signed transaction and returns its hash
func (s *Service) SendRawTransaction(ctx context.Context, rawTx string) (string, error) {
	if !rawTxPattern.MatchString(rawTx) {
		return "", fmt.Errorf("%w: raw transaction must be 0x-prefixed hex", ErrInvalidArgument)
	}

	result, err := s.Call(ctx, "eth_sendRawTransaction", []interface{}{rawTx})
	if err != nil {
		return "", err
	}

	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		return "", fmt.Errorf("failed to parse transaction hash: %w", err)
	}

	s.logger.Info().Str("hash", hash).Msg("transaction sent")
	return hash, nil
}

// Receipt returns the receipt of a mined transaction.
// Returns false if the transaction is not mined yet.
func (s *Service) Receipt(ctx context.Context, hash string) (*jsonrpc.Receipt, bool, error) {
	if !hashPattern.MatchString(hash) {
		return nil, false, fmt.Errorf("%w: transaction hash %q", ErrInvalidArgument, hash)
	}

	result, err := s.Call(ctx, "eth_getTransactionReceipt", []interface{}{hash})
	if err != nil {
		return nil, false, err
	}
	if isNull(result) {
		return nil, false, nil
	}

	var receipt jsonrpc.Receipt
	if err := json.Unmarshal(result, &receipt); err != nil {
		return nil, false, fmt.Errorf("failed to parse receipt: %w", err)
	}
	return &receipt, true, nil
}

// WaitForReceipt polls until the transaction is mined or ctx is done.
// A mined but failed transaction returns the receipt with ErrTransactionFailed.
func (s *Service) WaitForReceipt(ctx context.Context, hash string) (*jsonrpc.Receipt, error) {
	ticker := time.NewTicker(s.cfg.ReceiptInterval)
	defer ticker.Stop()

	for {
		receipt, ok, err := s.Receipt(ctx, hash)
		if err != nil {
			return nil, err
		}
		if ok {
			if !receipt.Succeeded() {
				return receipt, fmt.Errorf("%w: %s in block %s", ErrTransactionFailed, hash, receipt.BlockNumber)
			}
			return receipt, nil
		}

		s.logger.Debug().Str("hash", hash).Msg("receipt not available yet")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt %s: %w", hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ProbeBlockNumbers issues n concurrent eth_blockNumber calls through the
// batcher. Each probe settles independently.
func (s *Service) ProbeBlockNumbers(ctx context.Context, n int) []batcher.Result[uint64] {
	if n <= 0 {
		return nil
	}

	chans := make([]<-chan batcher.Result[json.RawMessage], n)
	for i := range chans {
		chans[i] = s.CallBatched(ctx, "eth_blockNumber", nil)
	}

	results := make([]batcher.Result[uint64], n)
	for i, ch := range chans {
		select {
		case r := <-ch:
			if r.Err != nil {
				results[i].Err = r.Err
				continue
			}
			results[i].Value, results[i].Err = decodeQuantity(r.Value)
		case <-ctx.Done():
			results[i].Err = ctx.Err()
		}
	}
	return results
}

func (s *Service) quantity(ctx context.Context, method string, params interface{}) (uint64, error) {
	result, err := s.Call(ctx, method, params)
	if err != nil {
		return 0, err
	}
	return decodeQuantity(result)
}

func (s *Service) bigQuantity(ctx context.Context, method string, params interface{}) (*big.Int, error) {
	result, err := s.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}

	var hex string
	if err := json.Unmarshal(result, &hex); err != nil {
		return nil, fmt.Errorf("failed to parse %s result: %w", method, err)
	}
	return jsonrpc.ParseBigQuantity(hex)
}

func decodeQuantity(result json.RawMessage) (uint64, error) {
	var hex string
	if err := json.Unmarshal(result, &hex); err != nil {
		return 0, fmt.Errorf("failed to parse quantity: %w", err)
	}
	return jsonrpc.ParseQuantity(hex)
}

func validateAddress(address string) error {
	if !addressPattern.MatchString(address) {
		return fmt.Errorf("%w: address %q", ErrInvalidArgument, address)
	}
	return nil
}

func blockOrLatest(block string) string {
	if block == "" {
		return defaultBlock
	}
	return block
}
