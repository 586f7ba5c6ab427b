package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/spldrop/service/snapshot"
)

func TestCompileJQFilters_RejectsBadExpressions(t *testing.T) {
	_, err := compileJQFilters([]string{".holders > 10", ".frozen =="})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")

	codes, err := compileJQFilters([]string{".holders > 10"})
	require.NoError(t, err)
	assert.Len(t, codes, 1)
}

func TestMatchesJQFilters(t *testing.T) {
	summary := snapshot.CollectionSummary{Collection: "c", Assets: 100, Holders: 42, Frozen: 3}

	codes, err := compileJQFilters([]string{".holders > 10", ".frozen < 5"})
	require.NoError(t, err)
	assert.True(t, matchesJQFilters(codes, summary))

	codes, err = compileJQFilters([]string{".holders > 100"})
	require.NoError(t, err)
	assert.False(t, matchesJQFilters(codes, summary))

	// No filters means everything passes.
	assert.True(t, matchesJQFilters(nil, summary))
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	// jq truthiness: zero and empty string are still true.
	assert.True(t, isTruthy(0.0))
	assert.True(t, isTruthy(""))
}

func TestWriteJSONOutput_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, writeJSONOutput(path, map[string]int{"a": 1}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, string(data))
}

func TestLookupAssets_CombinesIDsAndSelectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.Method {
		case "getAsset":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","result":{"id":%q}}`, req.Params["id"])
		case "getAssetsByOwner":
			assert.Equal(t, "wallet-1", req.Params["ownerAddress"])
			fmt.Fprint(w, `{"jsonrpc":"2.0","result":{"total":1,"items":[{"id":"owned-1"}]}}`)
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	das := snapshot.NewDASClient(srv.URL, nil, snapshot.Config{}, nil, logger)

	assets, err := lookupAssets(context.Background(), das, []string{"a1", "a2"}, "wallet-1", "", "")
	require.NoError(t, err)

	ids := make([]string, len(assets))
	for i, asset := range assets {
		ids[i] = asset.ID
	}
	assert.Equal(t, []string{"a1", "a2", "owned-1"}, ids)
}

func TestLoadStringArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mints.json")
	require.NoError(t, os.WriteFile(path, []byte(`["m1","m2"]`), 0o644))

	out, err := loadStringArray(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, out)

	_, err = loadStringArray(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
