// Package transport holds the replica-to-replica RPC client. It is the
// only place in this module that dials a peer over HTTP; everything else
// works through it.
//
// The coordinator calls these methods outside its coarse lock (spec.md
// §5: "broadcast RPCs themselves are issued outside the lock") and
// re-acquires it only when a reply needs to mutate local state.
package transport

import (
	"bytes"
	"context"
	"causalkv/internal/causal"
	"causalkv/internal/ring"
	"causalkv/internal/store"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Timeout budgets per spec.md §5: 0.5s for view operations, 1-2s for
// writes, 0.7s for large transfer messages.
const (
	ViewTimeout     = 500 * time.Millisecond
	WriteTimeout    = 2 * time.Second
	ForwardTimeout  = 2 * time.Second
	TransferTimeout = 700 * time.Millisecond
)

// maxPeerRetries is the liveness floor from spec.md §5: a replica that
// cannot reach a peer after this many retries evicts it from its view.
const maxPeerRetries = 2

// Client issues RPCs to peer replicas over HTTP.
type Client struct {
	http *http.Client
}

// New returns a transport client. A single http.Client is shared across
// all peers so its connection pool is reused.
func New() *Client {
	return &Client{http: &http.Client{}}
}

// ReplicatedValue is the wire body for a forwarded write or delete,
// carrying both the value and the vector clock the coordinator produced
// (/reptorep/{key}/{from}).
type ReplicatedValue struct {
	Value store.Value `json:"value"`
}

// TransferBundle is the full state handed to a joining or newly-added
// shard member, or pulled by a replica joining a shard.
type TransferBundle struct {
	Data        map[string]store.Value `json:"data"`
	Clock       causal.Clock           `json:"clock"`
	ShardTable  map[string][]string    `json:"shard_table"`
	KeyLocation map[string][]string    `json:"key_location"`
	Ring        ring.Snapshot          `json:"ring"`
}

// ReshardBlast is broadcast by the reshard initiator to every replica.
type ReshardBlast struct {
	ShardTable map[string][]string `json:"shard_table"`
	Ring       ring.Snapshot       `json:"ring"`
}

// StoreBucket carries a batch of (key, value) pairs rehashed into a new
// shard during reshard, sent via the updated-store merge RPC.
type StoreBucket struct {
	Data map[string]store.Value `json:"data"`
}

// PutResult/GetResult/DeleteResult mirror the external KV response
// shapes (spec.md §6), used when relaying a forwarded client request's
// result back verbatim.
type PutResult struct {
	Result         string       `json:"result"`
	CausalMetadata causal.Clock `json:"causal-metadata"`
	ShardID        string       `json:"shard-id,omitempty"`
	Error          string       `json:"error,omitempty"`
}

type GetResult struct {
	Result         string          `json:"result"`
	Value          json.RawMessage `json:"value,omitempty"`
	CausalMetadata causal.Clock    `json:"causal-metadata,omitempty"`
	Error          string          `json:"error,omitempty"`
}

type DeleteResult struct {
	Result         string       `json:"result"`
	CausalMetadata causal.Clock `json:"causal-metadata,omitempty"`
	Error          string       `json:"error,omitempty"`
}

type kvRequest struct {
	Value          json.RawMessage `json:"value,omitempty"`
	CausalMetadata causal.Clock    `json:"causal-metadata"`
}

// ForwardPut relays a client PUT to the replica that owns the key.
func (c *Client) ForwardPut(ctx context.Context, peer, key string, value json.RawMessage, vc causal.Clock) (PutResult, int, error) {
	var out PutResult
	status, err := c.doJSON(ctx, http.MethodPut, peer, "/kvs/"+key, kvRequest{Value: value, CausalMetadata: vc}, &out, ForwardTimeout)
	return out, status, err
}

// ForwardGet relays a client GET to a shard believed to hold the key.
func (c *Client) ForwardGet(ctx context.Context, peer, key string, vc causal.Clock) (GetResult, int, error) {
	var out GetResult
	status, err := c.doJSON(ctx, http.MethodGet, peer, "/kvs/"+key, kvRequest{CausalMetadata: vc}, &out, ForwardTimeout)
	return out, status, err
}

// ForwardDelete relays a client DELETE to a shard believed to hold the key.
func (c *Client) ForwardDelete(ctx context.Context, peer, key string, vc causal.Clock) (DeleteResult, int, error) {
	var out DeleteResult
	status, err := c.doJSON(ctx, http.MethodDelete, peer, "/kvs/"+key, kvRequest{CausalMetadata: vc}, &out, ForwardTimeout)
	return out, status, err
}

// ReplicatePut sends a confirmed write to a shard peer
// (PUT /reptorep/{key}/{from}), retrying up to maxPeerRetries times with
// a short backoff on a connection failure or an HTTP error status. The caller is responsible for
// evicting the peer from the view once this returns an error.
func (c *Client) ReplicatePut(ctx context.Context, peer, from, key string, val store.Value) error {
	return c.retry(func() error {
		status, err := c.doJSON(ctx, http.MethodPut, peer, "/reptorep/"+key+"/"+from, ReplicatedValue{Value: val}, nil, WriteTimeout)
		return httpErr(status, err)
	})
}

// ReplicateDelete sends a confirmed delete to a shard peer
// (DELETE /reptorep/{key}/{from}).
func (c *Client) ReplicateDelete(ctx context.Context, peer, from, key string, val store.Value) error {
	return c.retry(func() error {
		status, err := c.doJSON(ctx, http.MethodDelete, peer, "/reptorep/"+key+"/"+from, ReplicatedValue{Value: val}, nil, WriteTimeout)
		return httpErr(status, err)
	})
}

// BroadcastVC pushes the sender's vector clock to a peer
// (POST /reptorep/updatevc), fire-and-forget with a bounded timeout.
func (c *Client) BroadcastVC(ctx context.Context, peer string, vc causal.Clock) error {
	status, err := c.doJSON(ctx, http.MethodPost, peer, "/reptorep/updatevc", vc, nil, ViewTimeout)
	return httpErr(status, err)
}

// BroadcastKeyLocation announces that shard now claims key
// (POST /reptorep/updatemap/{key}).
func (c *Client) BroadcastKeyLocation(ctx context.Context, peer, key, shard string) error {
	body := struct {
		Shard string `json:"shard"`
	}{shard}
	status, err := c.doJSON(ctx, http.MethodPost, peer, "/reptorep/updatemap/"+key, body, nil, ViewTimeout)
	return httpErr(status, err)
}

// ViewAdd tells peer that addr joined the view (PUT /viewed). Recipients
// perform the same local insertion without re-broadcasting.
func (c *Client) ViewAdd(ctx context.Context, peer, addr string) error {
	body := struct {
		SocketAddress string `json:"socket-address"`
		Op            string `json:"op"`
	}{addr, "add"}
	status, err := c.doJSON(ctx, http.MethodPut, peer, "/viewed", body, nil, ViewTimeout)
	return httpErr(status, err)
}

// ViewRemove tells peer that addr left the view (DELETE /viewed).
func (c *Client) ViewRemove(ctx context.Context, peer, addr string) error {
	body := struct {
		SocketAddress string `json:"socket-address"`
		Op            string `json:"op"`
	}{addr, "remove"}
	status, err := c.doJSON(ctx, http.MethodDelete, peer, "/viewed", body, nil, ViewTimeout)
	return httpErr(status, err)
}

// ExistingInfo pulls the store+VC from an in-shard peer, used during
// startup state transfer (spec.md §4.6).
func (c *Client) ExistingInfo(ctx context.Context, peer string) (TransferBundle, error) {
	var out TransferBundle
	status, err := c.doJSON(ctx, http.MethodGet, peer, "/existinginfo", nil, &out, TransferTimeout)
	return out, httpErr(status, err)
}

// ShardAddMemberIncoming broadcasts a full-state transfer to every
// replica when a new member is added to a shard (spec.md §4.7). Every
// recipient appends addr to its shard table; the recipient whose address
// equals addr additionally adopts the whole bundle.
func (c *Client) ShardAddMemberIncoming(ctx context.Context, peer, shard, addr string, bundle TransferBundle) error {
	body := struct {
		Shard         string `json:"shard"`
		SocketAddress string `json:"socket-address"`
		TransferBundle
	}{Shard: shard, SocketAddress: addr, TransferBundle: bundle}
	status, err := c.doJSON(ctx, http.MethodPut, peer, "/shard/addmemberincoming", body, nil, TransferTimeout)
	return httpErr(status, err)
}

// BlastReshard broadcasts the new shard table and ring to every replica
// (spec.md §4.7 step 4).
func (c *Client) BlastReshard(ctx context.Context, peer string, blast ReshardBlast) error {
	status, err := c.doJSON(ctx, http.MethodPut, peer, "/shard/blast_reshard", blast, nil, TransferTimeout)
	return httpErr(status, err)
}

// Remap tells peer to independently drain and redistribute its local
// store against the shard table/ring it already adopted via
// BlastReshard (spec.md §4.7 step 5, the original's /reptorep/remap).
func (c *Client) Remap(ctx context.Context, peer string) error {
	status, err := c.doJSON(ctx, http.MethodPut, peer, "/reptorep/remap", nil, nil, TransferTimeout)
	return httpErr(status, err)
}

// UpdatedStore merges a rehashed bucket of (k,v) pairs into peer's local
// store after a reshard (spec.md §4.7 step 5).
func (c *Client) UpdatedStore(ctx context.Context, peer string, bucket StoreBucket) error {
	status, err := c.doJSON(ctx, http.MethodPost, peer, "/reptorep/updated_store", bucket, nil, TransferTimeout)
	return httpErr(status, err)
}

// UpdatedMap merges a rebuilt key-location map into peer's index after
// a reshard.
func (c *Client) UpdatedMap(ctx context.Context, peer string, m map[string][]string) error {
	status, err := c.doJSON(ctx, http.MethodPost, peer, "/reptorep/updated_map", m, nil, TransferTimeout)
	return httpErr(status, err)
}

// retry calls fn up to maxPeerRetries+1 times total, sleeping a short
// backoff between attempts that grows by 150ms with each retry. The caller decides what eviction means;
// retry only reports whether the peer stayed reachable.
func (c *Client) retry(fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxPeerRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 150 * time.Millisecond)
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

func (c *Client) doJSON(ctx context.Context, method, peer, path string, body, out any, timeout time.Duration) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", peer, path)
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func httpErr(status int, err error) error {
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("peer returned HTTP %d", status)
	}
	return nil
}
