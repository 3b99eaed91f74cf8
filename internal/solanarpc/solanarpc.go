// Package solanarpc implements the upstream RPC/WebSocket collaborators the
// tracker packages depend on (spec.md §6). JSON-RPC plumbing is plain
// net/http + encoding/json, the one place this gateway deliberately stays
// on the standard library: Solana's JSON-RPC surface has no mature,
// actively maintained Go client in the corpus, and a bespoke thin wrapper
// over net/http is less risk than adopting one.
package solanarpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bifrost-gw/bifrost/internal/scheduletracker"
	"github.com/bifrost-gw/bifrost/internal/socketregistry"
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Client issues JSON-RPC calls against a Solana RPC endpoint and satisfies
// the Fetcher interfaces scheduletracker and socketregistry depend on.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient builds a Client bound to url.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	reqBody := rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("unmarshal %s result: %w", method, err)
	}
	return nil
}

type epochInfoResult struct {
	AbsoluteSlot uint64 `json:"absoluteSlot"`
	SlotIndex    uint64 `json:"slotIndex"`
	SlotsInEpoch uint64 `json:"slotsInEpoch"`
}

// GetEpochInfo satisfies scheduletracker.Fetcher.
func (c *Client) GetEpochInfo(ctx context.Context) (scheduletracker.EpochInfo, error) {
	var result epochInfoResult
	if err := c.call(ctx, "getEpochInfo", nil, &result); err != nil {
		return scheduletracker.EpochInfo{}, err
	}
	return scheduletracker.EpochInfo{
		AbsoluteSlot: result.AbsoluteSlot,
		SlotIndex:    result.SlotIndex,
		SlotsInEpoch: result.SlotsInEpoch,
	}, nil
}

type leaderScheduleEntry = []uint64

// GetLeaderSchedule satisfies scheduletracker.Fetcher. It inverts the
// identity -> []slot_index shape the RPC returns into a slot_index ->
// identity map, matching what Tracker stores (spec.md §4.2).
func (c *Client) GetLeaderSchedule(ctx context.Context, epochStart uint64) (map[uint64]scheduletracker.Identity, error) {
	var raw map[string]leaderScheduleEntry
	params := []interface{}{epochStart}
	if err := c.call(ctx, "getLeaderSchedule", params, &raw); err != nil {
		return nil, err
	}

	out := make(map[uint64]scheduletracker.Identity)
	for identity, indices := range raw {
		for _, idx := range indices {
			out[idx] = scheduletracker.Identity(identity)
		}
	}
	return out, nil
}

type clusterNodeResult struct {
	Pubkey  string `json:"pubkey"`
	TPUQUIC string `json:"tpuQuic"`
	Gossip  string `json:"gossip"`
}

// GetClusterNodes satisfies socketregistry.Fetcher.
func (c *Client) GetClusterNodes(ctx context.Context) ([]socketregistry.Node, error) {
	var raw []clusterNodeResult
	if err := c.call(ctx, "getClusterNodes", nil, &raw); err != nil {
		return nil, err
	}

	out := make([]socketregistry.Node, 0, len(raw))
	for _, n := range raw {
		out = append(out, socketregistry.Node{
			Pubkey:  socketregistry.Identity(n.Pubkey),
			TPUQUIC: n.TPUQUIC,
		})
	}
	return out, nil
}
