package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dasRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      string         `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

// dasTestServer routes JSON-RPC requests to per-method handlers and
// records everything it served.
type dasTestServer struct {
	mu       sync.Mutex
	server   *httptest.Server
	requests []dasRequest
	handlers map[string]func(req dasRequest) (any, *dasError)
	failures int
}

func newDASTestServer(t *testing.T) *dasTestServer {
	t.Helper()
	s := &dasTestServer{handlers: map[string]func(req dasRequest) (any, *dasError){}}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req dasRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		s.mu.Lock()
		s.requests = append(s.requests, req)
		if s.failures > 0 {
			s.failures--
			s.mu.Unlock()
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		handler, ok := s.handlers[req.Method]
		s.mu.Unlock()

		require.True(t, ok, "unexpected method %s", req.Method)
		result, dasErr := handler(req)
		w.Header().Set("Content-Type", "application/json")
		if dasErr != nil {
			json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": dasErr})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *dasTestServer) client() *DASClient {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDASClient(s.server.URL, nil, Config{Attempts: 3, DelayUnit: time.Millisecond}, nil, logger)
}

func (s *dasTestServer) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func ownedAsset(id, owner string) Asset {
	var a Asset
	a.ID = id
	a.Ownership.Owner = owner
	return a
}

func TestGetAsset(t *testing.T) {
	s := newDASTestServer(t)
	s.handlers["getAsset"] = func(req dasRequest) (any, *dasError) {
		assert.Equal(t, "mint-1", req.Params["id"])
		return ownedAsset("mint-1", "owner-1"), nil
	}

	asset, err := s.client().GetAsset(context.Background(), "mint-1")

	require.NoError(t, err)
	assert.Equal(t, "mint-1", asset.ID)
	assert.Equal(t, "owner-1", asset.Ownership.Owner)
}

func TestPaginationStopsOnShortPage(t *testing.T) {
	s := newDASTestServer(t)
	s.handlers["getAssetsByGroup"] = func(req dasRequest) (any, *dasError) {
		page := int(req.Params["page"].(float64))
		assert.EqualValues(t, pageLimit, req.Params["limit"])
		assert.Equal(t, "collection", req.Params["groupKey"])

		if page == 1 {
			items := make([]Asset, pageLimit)
			for i := range items {
				items[i] = ownedAsset(fmt.Sprintf("mint-%d", i), "owner")
			}
			return assetPage{Total: pageLimit, Page: page, Items: items}, nil
		}
		return assetPage{Total: 2, Page: page, Items: []Asset{
			ownedAsset("mint-1000", "owner"),
			ownedAsset("mint-1001", "owner"),
		}}, nil
	}

	assets, err := s.client().AssetsByGroup(context.Background(), "collection", "coll-1")

	require.NoError(t, err)
	assert.Len(t, assets, pageLimit+2)
	assert.Equal(t, 2, s.requestCount())
}

func TestCallRetriesServerFailures(t *testing.T) {
	s := newDASTestServer(t)
	s.failures = 2
	s.handlers["getAsset"] = func(req dasRequest) (any, *dasError) {
		return ownedAsset("mint-1", "owner-1"), nil
	}

	asset, err := s.client().GetAsset(context.Background(), "mint-1")

	require.NoError(t, err)
	assert.Equal(t, "mint-1", asset.ID)
	assert.Equal(t, 3, s.requestCount())
}

func TestCallDoesNotRetryRPCErrors(t *testing.T) {
	s := newDASTestServer(t)
	s.handlers["getAsset"] = func(req dasRequest) (any, *dasError) {
		return nil, &dasError{Code: -32602, Message: "invalid params"}
	}

	_, err := s.client().GetAsset(context.Background(), "nope")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid params")
	assert.Equal(t, 1, s.requestCount(), "a structured error is definitive")
}

func TestSearchAssetsSendsGrouping(t *testing.T) {
	s := newDASTestServer(t)
	s.handlers["searchAssets"] = func(req dasRequest) (any, *dasError) {
		assert.Equal(t, "owner-1", req.Params["ownerAddress"])
		assert.Equal(t, []any{"collection", "coll-1"}, req.Params["grouping"])
		return assetPage{Total: 1, Items: []Asset{ownedAsset("mint-1", "owner-1")}}, nil
	}

	assets, err := s.client().SearchAssets(context.Background(), "owner-1", "coll-1")

	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "mint-1", assets[0].ID)
}

func TestCollectionHolders_AggregatesAndSkipsBurnt(t *testing.T) {
	s := newDASTestServer(t)
	burnt := ownedAsset("mint-3", "a")
	burnt.Burnt = true
	s.handlers["getAssetsByGroup"] = func(req dasRequest) (any, *dasError) {
		return assetPage{Total: 4, Items: []Asset{
			ownedAsset("mint-0", "a"),
			ownedAsset("mint-1", "b"),
			ownedAsset("mint-2", "a"),
			burnt,
		}}, nil
	}

	holders, err := s.client().CollectionHolders(context.Background(), "coll-1")

	require.NoError(t, err)
	require.Len(t, holders, 2)
	assert.Equal(t, "a", holders[0].WalletID)
	assert.Equal(t, uint64(2), holders[0].TotalAmount)
	assert.Equal(t, []string{"mint-0", "mint-2"}, holders[0].MintIDs)
	assert.Equal(t, "b", holders[1].WalletID)
}

func TestSummarizeCollection(t *testing.T) {
	s := newDASTestServer(t)
	frozen := ownedAsset("mint-1", "b")
	frozen.Ownership.Frozen = true
	delegated := ownedAsset("mint-2", "a")
	delegated.Ownership.Delegated = true
	burnt := ownedAsset("mint-3", "c")
	burnt.Burnt = true
	s.handlers["getAssetsByGroup"] = func(req dasRequest) (any, *dasError) {
		return assetPage{Total: 4, Items: []Asset{
			ownedAsset("mint-0", "a"), frozen, delegated, burnt,
		}}, nil
	}

	summary, err := s.client().SummarizeCollection(context.Background(), "coll-1")

	require.NoError(t, err)
	assert.Equal(t, 4, summary.Assets)
	assert.Equal(t, 2, summary.Holders)
	assert.Equal(t, 1, summary.Frozen)
	assert.Equal(t, 1, summary.Delegated)
	assert.Equal(t, 1, summary.Burnt)
}
