// Package client provides a Go SDK for talking to the distributed KV store.
//
// Big idea:
//
// Instead of writing raw HTTP requests everywhere,
// we wrap them inside a clean Go API.
//
// So instead of:
//
//	http.NewRequest(...)
//	json.Marshal(...)
//
// Users can simply call:
//
//	client.Put(ctx, "key", value, vc)
//	client.Get(ctx, "key", vc)
//
// This is called a "client library" or "SDK".
//
// It hides:
//   - HTTP details
//   - JSON encoding/decoding
//   - Error handling
//
// And exposes a clean Go interface.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CausalMetadata is a vector clock as seen by a client: a map from
// replica address to the highest counter that replica has confirmed.
// The zero value (nil) carries no dependency.
type CausalMetadata map[string]uint64

// Client represents a connection to ONE replica.
//
// Important:
//
// This client talks to a single replica.
// That replica is responsible for:
//   - Forwarding the request to the owning shard, if needed
//   - Replicating within its shard
//   - Maintaining causal metadata
//
// So the client does NOT implement distributed logic.
// It just talks to one replica and carries causal metadata forward
// between calls so the caller gets causally-consistent reads.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new Client.
//
// baseURL example:
//
//	"http://localhost:8090"
//
// timeout protects us from hanging forever.
// In distributed systems:
//
//	NEVER call network without timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// PutResponse is returned after a successful write.
//
// Why return causal metadata?
//
// Because this is a distributed system.
// Each write advances a vector clock.
// The caller must pass this back on its next request to keep reads and
// writes causally consistent.
type PutResponse struct {
	Result         string         `json:"result"`
	CausalMetadata CausalMetadata `json:"causal-metadata"`
	ShardID        string         `json:"shard-id,omitempty"`
}

// GetResponse includes the value and the causal metadata to carry
// forward into the next request.
type GetResponse struct {
	Result         string          `json:"result"`
	Value          json.RawMessage `json:"value"`
	CausalMetadata CausalMetadata  `json:"causal-metadata"`
}

// DeleteResponse mirrors PutResponse for deletes.
type DeleteResponse struct {
	Result         string         `json:"result"`
	CausalMetadata CausalMetadata `json:"causal-metadata"`
}

// Put stores key=value in the cluster.
//
// Flow:
//
//  1. Create JSON body carrying value + causal metadata
//  2. Build HTTP PUT request
//  3. Send request
//  4. Check status
//  5. Decode response
//
// The distributed logic (forwarding, replication) happens inside the
// server. This client only performs the HTTP call.
func (c *Client) Put(ctx context.Context, key string, value json.RawMessage, vc CausalMetadata) (*PutResponse, error) {
	body, _ := json.Marshal(map[string]any{"value": value, "causal-metadata": vc})

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/kvs/%s", c.baseURL, key), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("PUT request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result PutResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Get retrieves the value for key.
//
// Special case:
//
//	If server returns 404
//	We convert it into ErrNotFound
func (c *Client) Get(ctx context.Context, key string, vc CausalMetadata) (*GetResponse, error) {
	body, _ := json.Marshal(map[string]any{"causal-metadata": vc})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/kvs/%s", c.baseURL, key), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result GetResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Delete removes key from the cluster.
//
// Internally the server may:
//   - Create a tombstone
//   - Replicate the deletion within the shard
//
// Client doesn't care. It just sends a DELETE request.
func (c *Client) Delete(ctx context.Context, key string, vc CausalMetadata) (*DeleteResponse, error) {
	body, _ := json.Marshal(map[string]any{"causal-metadata": vc})

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/kvs/%s", c.baseURL, key), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("DELETE request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result DeleteResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// ViewAdd registers a replica's socket address into the cluster's view.
//
// This triggers:
//   - View broadcast to every other replica
//   - Causal-metadata seeding for the new address
func (c *Client) ViewAdd(ctx context.Context, socketAddress string) error {
	body, _ := json.Marshal(map[string]string{"socket-address": socketAddress})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/view", c.baseURL), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// ViewRemove removes a replica's socket address from the cluster's view.
func (c *Client) ViewRemove(ctx context.Context, socketAddress string) error {
	body, _ := json.Marshal(map[string]string{"socket-address": socketAddress})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/view", c.baseURL), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// ViewList returns every replica address the contacted replica knows about.
func (c *Client) ViewList(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/view", c.baseURL), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var result struct {
		View []string `json:"view"`
	}
	return result.View, json.NewDecoder(resp.Body).Decode(&result)
}

// ShardAddMember adds socketAddress to shard id, triggering a full
// state transfer to the new member.
func (c *Client) ShardAddMember(ctx context.Context, id, socketAddress string) error {
	body, _ := json.Marshal(map[string]string{"socket-address": socketAddress})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/shard/add-member/%s", c.baseURL, id), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Reshard tells the cluster to rebuild its shard layout around
// shardCount shards.
func (c *Client) Reshard(ctx context.Context, shardCount int) error {
	body, _ := json.Marshal(map[string]int{"shard-count": shardCount})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/shard/reshard", c.baseURL), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// ─── Errors ───────────────────────────────────────────────────────────────────

// ErrNotFound is returned when a key or view member does not exist.
var ErrNotFound = fmt.Errorf("not found")

// APIError carries the HTTP status and the error message from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// checkStatus converts HTTP error responses
// into Go errors.
//
// If status is 2xx → success.
// Otherwise:
//
//  1. Read response body
//  2. Try parsing {"error": "..."} JSON
//  3. Return APIError
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
