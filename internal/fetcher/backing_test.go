package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lst-yield/internal/metrics"
)

func TestOnchainMissingConfig(t *testing.T) {
	off := NewOnchain(OnchainOptions{}, nil, noopLogger())
	if _, err := off.HeadBlock(context.Background()); err == nil {
		t.Fatal("expected error without rpc url")
	}

	off = NewOnchain(OnchainOptions{RPCURL: "http://localhost"}, nil, noopLogger())
	if _, _, err := off.FetchObservation(context.Background(), 1); err == nil {
		t.Fatal("expected error without token address")
	}
}

func TestOnchainFetchObservation(t *testing.T) {
	node := newFakeNode(0, 20, 1_700_000_000)
	m := metrics.New()
	o := NewOnchain(OnchainOptions{
		RPCURL:       startNode(t, node),
		TokenAddress: testToken,
		Timeout:      time.Second,
	}, m, noopLogger())
	defer o.Close()

	head, err := o.HeadBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(20), head)

	obs, hash, err := o.FetchObservation(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), obs.BlockNumber)
	assert.Equal(t, uint64(1_700_000_000+120), obs.Timestamp)
	assert.Equal(t, "1000000000000000010", obs.Backing.String())
	assert.Equal(t, node.headers[10].Hash(), hash)
}

func TestOnchainFetchMissingBlock(t *testing.T) {
	node := newFakeNode(0, 5, 1_700_000_000)
	o := NewOnchain(OnchainOptions{RPCURL: startNode(t, node), TokenAddress: testToken}, nil, noopLogger())
	defer o.Close()

	_, _, err := o.FetchObservation(context.Background(), 99)
	require.Error(t, err)
}

func TestOnchainFetchHeadersLinked(t *testing.T) {
	node := newFakeNode(100, 160, 1_700_000_000)
	o := NewOnchain(OnchainOptions{
		RPCURL:            startNode(t, node),
		TokenAddress:      testToken,
		MaxConcurrency:    4,
		RequestsPerSecond: 1000,
	}, nil, noopLogger())
	defer o.Close()

	headers, err := o.FetchHeaders(context.Background(), 100, 160)
	require.NoError(t, err)
	require.Len(t, headers, 61)
	assert.Equal(t, uint64(100), headers[0].Number.Uint64())
	assert.Equal(t, uint64(160), headers[60].Number.Uint64())
	require.NoError(t, VerifyLinkage(headers))
}

func TestOnchainFetchHeadersInvalidRange(t *testing.T) {
	o := NewOnchain(OnchainOptions{RPCURL: "http://localhost", TokenAddress: testToken}, nil, noopLogger())
	_, err := o.FetchHeaders(context.Background(), 10, 5)
	require.Error(t, err)
}

func TestOnchainContract(t *testing.T) {
	o := NewOnchain(OnchainOptions{TokenAddress: "0xbe9895146f7af43049ca1c1ae358b0541ea49704"}, nil, noopLogger())
	assert.Equal(t, DefaultTokenAddress, o.Contract())
}

func TestOnchainRetriesTransientFailures(t *testing.T) {
	node := newFakeNode(0, 20, 1_700_000_000)
	node.failures.Store(2)
	m := metrics.New()
	o := NewOnchain(OnchainOptions{
		RPCURL:       startNode(t, node),
		TokenAddress: testToken,
		Timeout:      time.Second,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}, m, noopLogger())
	defer o.Close()

	obs, _, err := o.FetchObservation(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), obs.BlockNumber)
	// two failed header reads, one good header read, one eth_call
	assert.Equal(t, int64(4), node.calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RPCRequests.WithLabelValues("eth_getBlockByNumber", "error")))
}

func TestOnchainGivesUpAfterMaxRetries(t *testing.T) {
	node := newFakeNode(0, 20, 1_700_000_000)
	node.failures.Store(10)
	o := NewOnchain(OnchainOptions{
		RPCURL:       startNode(t, node),
		TokenAddress: testToken,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}, nil, noopLogger())
	defer o.Close()

	_, err := o.HeadBlock(context.Background())
	require.ErrorContains(t, err, "after 3 attempts")
	assert.Equal(t, int64(3), node.calls.Load())
}

func TestOnchainNoRetryByDefault(t *testing.T) {
	node := newFakeNode(0, 20, 1_700_000_000)
	node.failures.Store(1)
	o := NewOnchain(OnchainOptions{RPCURL: startNode(t, node), TokenAddress: testToken}, nil, noopLogger())
	defer o.Close()

	_, err := o.HeadBlock(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(1), node.calls.Load())
}

func TestOnchainRetryHonoursCancel(t *testing.T) {
	node := newFakeNode(0, 20, 1_700_000_000)
	node.failures.Store(10)
	o := NewOnchain(OnchainOptions{
		RPCURL:       startNode(t, node),
		TokenAddress: testToken,
		MaxRetries:   5,
		RetryBackoff: time.Hour,
	}, nil, noopLogger())
	defer o.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := o.HeadBlock(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(started), 5*time.Second)
	assert.Equal(t, int64(1), node.calls.Load())
}

func TestOnchainRetryDelayCapped(t *testing.T) {
	o := NewOnchain(OnchainOptions{RetryBackoff: 500 * time.Millisecond}, nil, noopLogger())
	assert.Equal(t, 500*time.Millisecond, o.retryDelay(0))
	assert.Equal(t, time.Second, o.retryDelay(1))
	assert.Equal(t, maxRetryDelay, o.retryDelay(10))
	assert.Equal(t, maxRetryDelay, o.retryDelay(70))
}
