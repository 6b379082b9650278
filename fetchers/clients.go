package fetchers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
)

const httpTimeout = 10 * time.Second

// Clients bundles the upstream connections the fetchers share: one EVM RPC
// client per chain (dialed lazily, cached), and HTTP access to the subgraph
// gateway, the off-chain quote source and the block-explorer API.
type Clients struct {
	rpcURLs     map[string]string
	subgraphURL string
	quoteURL    string
	quoteKey    string
	explorerURL string
	explorerKey string

	httpClient *http.Client

	mu  sync.Mutex
	eth map[string]*ethclient.Client
}

// NewClients builds the shared client bundle. No connection is made until a
// fetcher first needs a chain.
func NewClients(rpcURLs map[string]string, subgraphURL, quoteURL, quoteKey, explorerURL, explorerKey string) *Clients {
	return &Clients{
		rpcURLs:     rpcURLs,
		subgraphURL: subgraphURL,
		quoteURL:    quoteURL,
		quoteKey:    quoteKey,
		explorerURL: explorerURL,
		explorerKey: explorerKey,
		httpClient:  &http.Client{Timeout: httpTimeout},
		eth:         make(map[string]*ethclient.Client),
	}
}

// Eth returns (dialing on first use) the RPC client for a chain.
func (c *Clients) Eth(chain string) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.eth[chain]; ok {
		return client, nil
	}
	rpcURL, ok := c.rpcURLs[chain]
	if !ok || rpcURL == "" {
		return nil, fmt.Errorf("no RPC URL configured for %s", chain)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s RPC: %w", chain, err)
	}
	c.eth[chain] = client
	return client, nil
}

// Close closes every dialed RPC client.
func (c *Clients) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, client := range c.eth {
		client.Close()
	}
	c.eth = make(map[string]*ethclient.Client)
}

// Subgraph posts a GraphQL query and decodes the data envelope into out.
func (c *Clients) Subgraph(ctx context.Context, subgraphID, query string, variables map[string]interface{}, out interface{}) (int, error) {
	if c.subgraphURL == "" {
		return 0, fmt.Errorf("subgraph gateway not configured")
	}

	payload := map[string]interface{}{"query": query}
	if variables != nil {
		payload["variables"] = variables
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal query: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s", c.subgraphURL, subgraphID)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return resp.StatusCode, fmt.Errorf("subgraph status %d: %s", resp.StatusCode, string(body))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return resp.StatusCode, err
	}
	if len(envelope.Errors) > 0 {
		return resp.StatusCode, fmt.Errorf("subgraph error: %s", envelope.Errors[0].Message)
	}
	return resp.StatusCode, json.Unmarshal(envelope.Data, out)
}

// Quote performs a GET against the off-chain quote source and decodes JSON.
func (c *Clients) Quote(ctx context.Context, path string, params url.Values, out interface{}) (int, error) {
	endpoint := c.quoteURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return 0, err
	}
	if c.quoteKey != "" {
		req.Header.Set("x-api-key", c.quoteKey)
	}
	return c.getJSON(req, out)
}

// Explorer performs a GET against the block-explorer API and decodes JSON.
func (c *Clients) Explorer(ctx context.Context, params url.Values, out interface{}) (int, error) {
	if c.explorerKey != "" {
		params.Set("apikey", c.explorerKey)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", c.explorerURL+"?"+params.Encode(), nil)
	if err != nil {
		return 0, err
	}
	return c.getJSON(req, out)
}

// Get fetches an arbitrary URL and returns its body (scraper PoR sources).
func (c *Clients) Get(ctx context.Context, rawURL string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(body), nil
}

func (c *Clients) getJSON(req *http.Request, out interface{}) (int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return resp.StatusCode, fmt.Errorf("API status %d: %s", resp.StatusCode, string(body))
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}
