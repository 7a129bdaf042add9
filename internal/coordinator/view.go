package coordinator

import (
	"context"
	"log"
)

// ViewResult is returned by the client-facing view endpoints.
type ViewResult struct {
	Result string `json:"result"`
}

// AddToView handles a client's PUT /view: insert addr and broadcast the
// addition to every other known replica (spec.md §4.6).
func (r *Replica) AddToView(ctx context.Context, addr string) (ViewResult, bool) {
	if !r.view.Add(addr) {
		return ViewResult{Result: "already present"}, false
	}
	r.mu.Lock()
	r.vc[addr] = 0
	r.mu.Unlock()

	r.broadcastViewAdd(ctx, addr)
	return ViewResult{Result: "added"}, true
}

// ReceiveViewAdd is invoked on PUT /viewed: adopt addr into the local
// view without re-broadcasting.
func (r *Replica) ReceiveViewAdd(addr string) bool {
	if !r.view.Add(addr) {
		return false
	}
	r.mu.Lock()
	r.vc[addr] = 0
	r.mu.Unlock()
	return true
}

// RemoveFromView handles a client's DELETE /view.
func (r *Replica) RemoveFromView(ctx context.Context, addr string) error {
	if !r.view.Remove(addr) {
		return notFound("view has no such replica")
	}
	r.broadcastViewRemove(ctx, addr)
	return nil
}

// ReceiveViewRemove is invoked on DELETE /viewed.
func (r *Replica) ReceiveViewRemove(addr string) bool {
	return r.view.Remove(addr)
}

// ListView returns every address this replica currently knows about.
func (r *Replica) ListView() []string {
	return r.view.All()
}

func (r *Replica) broadcastViewAdd(ctx context.Context, addr string) {
	for _, peer := range r.view.Others(r.self) {
		if peer == addr {
			continue
		}
		if err := r.tr.ViewAdd(ctx, peer, addr); err != nil {
			log.Printf("coordinator: view-add to %s failed: %v", peer, err)
		}
	}
}

func (r *Replica) broadcastViewRemove(ctx context.Context, addr string) {
	for _, peer := range r.view.Others(r.self) {
		if peer == addr {
			continue
		}
		if err := r.tr.ViewRemove(ctx, peer, addr); err != nil {
			log.Printf("coordinator: view-remove to %s failed: %v", peer, err)
		}
	}
}

// evictPeer drops an unresponsive peer from the view and tells every
// other replica to do the same — the liveness floor from spec.md §5.
func (r *Replica) evictPeer(ctx context.Context, peer string) {
	if !r.view.Remove(peer) {
		return
	}
	log.Printf("coordinator: evicting unreachable peer %s", peer)
	r.broadcastViewRemove(ctx, peer)
}
