package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"lst-yield/internal/metrics"
	"lst-yield/internal/yield"
)

const (
	exchangeRateABIJSON = `[{"inputs":[],"name":"exchangeRate","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

	// DefaultTokenAddress is the Coinbase Wrapped Staked ETH contract.
	DefaultTokenAddress = "0xBe9895146f7AF43049ca1c1AE358B0541Ea49704"
)

var (
	exchangeRateABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(exchangeRateABIJSON))
	if err != nil {
		panic("failed to parse exchangeRate ABI: " + err.Error())
	}
	exchangeRateABI = parsed
}

// OnchainOptions parameterise the JSON-RPC fetcher.
type OnchainOptions struct {
	RPCURL            string
	TokenAddress      string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxConcurrency    int
	// MaxRetries is the number of extra attempts after a failed call.
	MaxRetries int
	// RetryBackoff is the first retry delay; it doubles per attempt.
	RetryBackoff time.Duration
}

const maxRetryDelay = 10 * time.Second

// Onchain reads block headers and exchangeRate() through an Ethereum node.
type Onchain struct {
	opts      OnchainOptions
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	limiter   *rate.Limiter
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewOnchain builds a new on-chain backing fetcher. m may be nil.
func NewOnchain(opts OnchainOptions, m *metrics.Metrics, logger zerolog.Logger) *Onchain {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 8
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Onchain{
		opts:    opts,
		logger:  logger.With().Str("component", "onchain_fetcher").Logger(),
		metrics: m,
		limiter: rate.NewLimiter(limit, opts.MaxConcurrency),
	}
}

// Contract returns the checksummed token address being sampled.
func (o *Onchain) Contract() string {
	return common.HexToAddress(o.opts.TokenAddress).Hex()
}

// HeadBlock returns the latest block number known to the node.
func (o *Onchain) HeadBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := o.call(ctx, "eth_blockNumber", func(ctx context.Context, client *ethclient.Client) error {
		var err error
		head, err = client.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fetch head block: %w", err)
	}
	return head, nil
}

// FetchObservation reads the header and exchangeRate() pinned at block.
func (o *Onchain) FetchObservation(ctx context.Context, block uint64) (yield.Observation, common.Hash, error) {
	header, err := o.header(ctx, block)
	if err != nil {
		return yield.Observation{}, common.Hash{}, err
	}

	backing, err := o.exchangeRate(ctx, block)
	if err != nil {
		return yield.Observation{}, common.Hash{}, err
	}

	obs := yield.Observation{
		Timestamp:   header.Time,
		BlockNumber: block,
		Backing:     backing,
	}
	return obs, header.Hash(), nil
}

// FetchHeaders returns headers from..to inclusive in ascending order.
func (o *Onchain) FetchHeaders(ctx context.Context, from, to uint64) ([]*types.Header, error) {
	if from > to {
		return nil, fmt.Errorf("invalid header range %d..%d", from, to)
	}

	headers := make([]*types.Header, to-from+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MaxConcurrency)

	for block := from; block <= to; block++ {
		g.Go(func() error {
			h, err := o.header(gctx, block)
			if err != nil {
				return err
			}
			headers[block-from] = h
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	o.logger.Debug().Uint64("from", from).Uint64("to", to).Int("count", len(headers)).Msg("headers fetched")
	return headers, nil
}

func (o *Onchain) header(ctx context.Context, block uint64) (*types.Header, error) {
	var h *types.Header
	err := o.call(ctx, "eth_getBlockByNumber", func(ctx context.Context, client *ethclient.Client) error {
		var err error
		h, err = client.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("could not retrieve block %d: %w", block, err)
	}
	if h.Number == nil || h.Number.Uint64() != block {
		return nil, fmt.Errorf("block at height %d not found", block)
	}
	return h, nil
}

func (o *Onchain) exchangeRate(ctx context.Context, block uint64) (*big.Int, error) {
	payload, err := exchangeRateABI.Pack("exchangeRate")
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(o.opts.TokenAddress)
	var res []byte
	err = o.call(ctx, "eth_call", func(ctx context.Context, client *ethclient.Client) error {
		var err error
		res, err = client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, new(big.Int).SetUint64(block))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("exchangeRate at block %d: %w", block, err)
	}

	outputs, err := exchangeRateABI.Unpack("exchangeRate", res)
	if err != nil {
		return nil, fmt.Errorf("decode exchangeRate at block %d: %w", block, err)
	}
	if len(outputs) != 1 {
		return nil, errors.New("unexpected exchangeRate response")
	}

	value, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode exchangeRate output")
	}
	return value, nil
}

// call runs fn with up to MaxRetries extra attempts, backing off
// exponentially between them. Configuration errors are not retried.
func (o *Onchain) call(ctx context.Context, method string, fn func(ctx context.Context, client *ethclient.Client) error) error {
	if err := o.validate(); err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		err := o.attempt(ctx, method, fn)
		if err == nil {
			return nil
		}
		if attempt >= o.opts.MaxRetries || ctx.Err() != nil {
			if attempt > 0 {
				return fmt.Errorf("%s failed after %d attempts: %w", method, attempt+1, err)
			}
			return err
		}

		delay := o.retryDelay(attempt)
		o.logger.Warn().Err(err).
			Str("method", method).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("rpc call failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func (o *Onchain) attempt(ctx context.Context, method string, fn func(ctx context.Context, client *ethclient.Client) error) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}
	client, err := o.getClient(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	err = fn(ctx, client)
	o.observe(method, err)
	return err
}

func (o *Onchain) retryDelay(attempt int) time.Duration {
	if attempt > 30 {
		return maxRetryDelay
	}
	delay := o.opts.RetryBackoff * time.Duration(1<<uint(attempt))
	if delay <= 0 || delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func (o *Onchain) validate() error {
	if o.opts.RPCURL == "" {
		return errors.New("ethereum rpc url not configured")
	}
	if o.opts.TokenAddress == "" || !common.IsHexAddress(o.opts.TokenAddress) {
		return errors.New("token contract address not configured")
	}
	return nil
}

func (o *Onchain) getClient(ctx context.Context) (*ethclient.Client, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.client != nil {
		return o.client, nil
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.client = client
	return client, nil
}

// Close releases the RPC connection.
func (o *Onchain) Close() {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()
	if o.client != nil {
		o.client.Close()
		o.client = nil
	}
}

func (o *Onchain) observe(method string, err error) {
	if o.metrics == nil {
		return
	}
	o.metrics.ObserveRPC(method, err)
}

var _ BackingFetcher = (*Onchain)(nil)
