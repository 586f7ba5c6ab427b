package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/spldrop/service/airdrop"
	"github.com/brojonat/spldrop/service/metrics"
	"github.com/brojonat/spldrop/service/retry"
)

// pageLimit is the DAS page size; a response with fewer items than this
// is the last page.
const pageLimit = 1000

// Asset is a DAS digital asset, trimmed to the fields the tooling reads.
type Asset struct {
	Interface string `json:"interface"`
	ID        string `json:"id"`
	Grouping  []struct {
		GroupKey   string `json:"group_key"`
		GroupValue string `json:"group_value"`
	} `json:"grouping"`
	Creators []struct {
		Address  string `json:"address"`
		Share    int    `json:"share"`
		Verified bool   `json:"verified"`
	} `json:"creators"`
	Ownership struct {
		Frozen         bool    `json:"frozen"`
		Delegated      bool    `json:"delegated"`
		Delegate       *string `json:"delegate"`
		OwnershipModel string  `json:"ownership_model"`
		Owner          string  `json:"owner"`
	} `json:"ownership"`
	Burnt bool `json:"burnt"`
}

// CollectionSummary aggregates one collection's ownership state.
type CollectionSummary struct {
	Collection string `json:"collection"`
	Assets     int    `json:"assets"`
	Holders    int    `json:"holders"`
	Frozen     int    `json:"frozen"`
	Delegated  int    `json:"delegated"`
	Burnt      int    `json:"burnt"`
}

type dasError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *dasError) Error() string {
	return fmt.Sprintf("das error %d: %s", e.Code, e.Message)
}

type assetPage struct {
	Total int     `json:"total"`
	Limit int     `json:"limit"`
	Page  int     `json:"page"`
	Items []Asset `json:"items"`
}

// DASClient speaks the Helius Digital Asset Standard JSON-RPC API.
type DASClient struct {
	endpoint string
	http     *http.Client
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewDASClient creates a client for the given endpoint (the full URL,
// including any api-key query parameter). httpClient may be nil.
func NewDASClient(endpoint string, httpClient *http.Client, cfg Config, m *metrics.Metrics, logger *slog.Logger) *DASClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = retry.DefaultAttempts
	}
	return &DASClient{endpoint: endpoint, http: httpClient, cfg: cfg, logger: logger, metrics: m}
}

// call performs one JSON-RPC request, retrying transient transport and
// server failures.
func (c *DASClient) call(ctx context.Context, id, method string, params any, result any) error {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	raw, err := retry.Do(ctx, func(ctx context.Context) (json.RawMessage, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			c.metrics.RecordRPCCall(method, "error", time.Since(start).Seconds())
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			c.metrics.RecordRateLimitHit(method)
		}
		if resp.StatusCode >= 400 {
			io.Copy(io.Discard, resp.Body)
			c.metrics.RecordRPCCall(method, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("%s: http status %d", method, resp.StatusCode)
		}

		var envelope struct {
			Result json.RawMessage `json:"result"`
			Error  *dasError       `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			c.metrics.RecordRPCCall(method, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("decode %s response: %w", method, err)
		}
		if envelope.Error != nil {
			c.metrics.RecordRPCCall(method, "error", time.Since(start).Seconds())
			// Invalid params will not become valid on retry.
			return nil, retry.Permanent(envelope.Error)
		}
		c.metrics.RecordRPCCall(method, "success", time.Since(start).Seconds())
		return envelope.Result, nil
	}, c.cfg.Attempts, c.cfg.DelayUnit)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

// GetAsset fetches a single asset by id.
func (c *DASClient) GetAsset(ctx context.Context, assetID string) (*Asset, error) {
	var asset Asset
	err := c.call(ctx, fmt.Sprintf("asset-id-%s", assetID), "getAsset",
		map[string]any{"id": assetID}, &asset)
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// SearchAssets returns the assets of one owner within one collection.
func (c *DASClient) SearchAssets(ctx context.Context, owner, collection string) ([]Asset, error) {
	var page assetPage
	err := c.call(ctx, fmt.Sprintf("search-assets-%s", owner), "searchAssets", map[string]any{
		"ownerAddress": owner,
		"grouping":     []string{"collection", collection},
		"page":         1,
		"limit":        pageLimit,
	}, &page)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// paginate walks a paged DAS method until a short page.
func (c *DASClient) paginate(ctx context.Context, method string, params map[string]any) ([]Asset, error) {
	var assets []Asset
	for page := 1; ; page++ {
		merged := make(map[string]any, len(params)+2)
		for k, v := range params {
			merged[k] = v
		}
		merged["page"] = page
		merged["limit"] = pageLimit

		var res assetPage
		if err := c.call(ctx, fmt.Sprintf("%s-id-%d", method, page), method, merged, &res); err != nil {
			return nil, fmt.Errorf("%s page %d: %w", method, page, err)
		}
		assets = append(assets, res.Items...)
		if res.Total != pageLimit {
			return assets, nil
		}
	}
}

// AssetsByGroup lists every asset in a group, typically
// ("collection", <collection mint>).
func (c *DASClient) AssetsByGroup(ctx context.Context, groupKey, groupValue string) ([]Asset, error) {
	return c.paginate(ctx, "getAssetsByGroup", map[string]any{
		"groupKey":   groupKey,
		"groupValue": groupValue,
	})
}

// AssetsByCreator lists every asset of a creator.
func (c *DASClient) AssetsByCreator(ctx context.Context, creator string, onlyVerified bool) ([]Asset, error) {
	return c.paginate(ctx, "getAssetsByCreator", map[string]any{
		"creatorAddress": creator,
		"onlyVerified":   onlyVerified,
	})
}

// AssetsByAuthority lists every asset under an update authority.
func (c *DASClient) AssetsByAuthority(ctx context.Context, authority string) ([]Asset, error) {
	return c.paginate(ctx, "getAssetsByAuthority", map[string]any{
		"authorityAddress": authority,
	})
}

// AssetsByOwner lists every asset a wallet owns, fungibles included.
func (c *DASClient) AssetsByOwner(ctx context.Context, owner string) ([]Asset, error) {
	return c.paginate(ctx, "getAssetsByOwner", map[string]any{
		"ownerAddress": owner,
		"displayOptions": map[string]any{
			"showFungible":      true,
			"showNativeBalance": true,
		},
	})
}

// CollectionHolders aggregates a collection's assets into holder
// accounts, one per owner, skipping burnt assets. The result feeds the
// same per-NFT airdrop path as the on-chain snapshot.
func (c *DASClient) CollectionHolders(ctx context.Context, collection string) ([]airdrop.HolderAccount, error) {
	assets, err := c.AssetsByGroup(ctx, "collection", collection)
	if err != nil {
		return nil, err
	}
	var (
		order   []string
		byOwner = map[string]*airdrop.HolderAccount{}
	)
	for _, asset := range assets {
		if asset.Burnt || asset.Ownership.Owner == "" {
			continue
		}
		holder, ok := byOwner[asset.Ownership.Owner]
		if !ok {
			holder = &airdrop.HolderAccount{WalletID: asset.Ownership.Owner}
			byOwner[asset.Ownership.Owner] = holder
			order = append(order, asset.Ownership.Owner)
		}
		holder.TotalAmount++
		holder.MintIDs = append(holder.MintIDs, asset.ID)
	}
	holders := make([]airdrop.HolderAccount, len(order))
	for i, owner := range order {
		holders[i] = *byOwner[owner]
	}
	return holders, nil
}

// SummarizeCollection reports how much of a collection is held, frozen,
// delegated or burnt.
func (c *DASClient) SummarizeCollection(ctx context.Context, collection string) (*CollectionSummary, error) {
	assets, err := c.AssetsByGroup(ctx, "collection", collection)
	if err != nil {
		return nil, err
	}
	summary := &CollectionSummary{Collection: collection, Assets: len(assets)}
	owners := map[string]struct{}{}
	for _, asset := range assets {
		if asset.Burnt {
			summary.Burnt++
			continue
		}
		if asset.Ownership.Owner != "" {
			owners[asset.Ownership.Owner] = struct{}{}
		}
		if asset.Ownership.Frozen {
			summary.Frozen++
		}
		if asset.Ownership.Delegated {
			summary.Delegated++
		}
	}
	summary.Holders = len(owners)
	return summary, nil
}
