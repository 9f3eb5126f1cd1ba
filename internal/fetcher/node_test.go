package fetcher

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
)

const testToken = "0xBe9895146f7AF43049ca1c1AE358B0541Ea49704"

// fakeNode answers the handful of JSON-RPC methods the fetcher uses.
type fakeNode struct {
	headers map[uint64]*types.Header
	rates   map[uint64]*big.Int
	head    uint64
	calls   atomic.Int64
	// failures is the number of upcoming requests answered with 503.
	failures atomic.Int64
}

func newFakeNode(from, to, startTime uint64) *fakeNode {
	n := &fakeNode{
		headers: make(map[uint64]*types.Header),
		rates:   make(map[uint64]*big.Int),
		head:    to,
	}
	parent := common.Hash{}
	for b := from; b <= to; b++ {
		h := buildHeader(b, parent, startTime+(b-from)*12)
		n.headers[b] = h
		n.rates[b] = new(big.Int).Add(big.NewInt(1_000_000_000_000_000_000), big.NewInt(int64(b)))
		parent = h.Hash()
	}
	return n
}

func buildHeader(number uint64, parent common.Hash, ts uint64) *types.Header {
	return &types.Header{
		ParentHash: parent,
		Number:     new(big.Int).SetUint64(number),
		Time:       ts,
		Difficulty: big.NewInt(0),
		GasLimit:   30_000_000,
		Extra:      []byte{},
	}
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.calls.Add(1)
	if n.failures.Add(-1) >= 0 {
		http.Error(w, "node overloaded", http.StatusServiceUnavailable)
		return
	}
	n.failures.Store(0)

	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var result any
	switch req.Method {
	case "eth_blockNumber":
		result = hexutil.Uint64(n.head)
	case "eth_getBlockByNumber":
		if h, ok := n.headers[blockParam(req.Params[0])]; ok {
			result = h
		}
	case "eth_call":
		if v, ok := n.rates[blockParam(req.Params[1])]; ok {
			result = hexutil.Bytes(common.LeftPadBytes(v.Bytes(), 32))
		} else {
			result = hexutil.Bytes{}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result":  result,
	})
}

func blockParam(raw json.RawMessage) uint64 {
	var tag string
	if err := json.Unmarshal(raw, &tag); err != nil {
		return ^uint64(0)
	}
	v, err := hexutil.DecodeUint64(tag)
	if err != nil {
		return ^uint64(0)
	}
	return v
}

func startNode(t *testing.T, n *fakeNode) string {
	t.Helper()
	srv := httptest.NewServer(n)
	t.Cleanup(srv.Close)
	return srv.URL
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}
