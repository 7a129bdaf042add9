package transport

import (
	"context"
	"causalkv/internal/causal"
	"causalkv/internal/store"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestForwardPutRelaysResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/kvs/foo" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body kvRequest
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(PutResult{Result: "created", CausalMetadata: causal.Clock{"r1": 1}})
	}))
	defer srv.Close()

	c := New()
	out, status, err := c.ForwardPut(context.Background(), srv.Listener.Addr().String(), "foo", json.RawMessage(`"bar"`), causal.Clock{})
	if err != nil {
		t.Fatalf("ForwardPut: %v", err)
	}
	if status != http.StatusCreated || out.Result != "created" {
		t.Fatalf("unexpected result: %+v status=%d", out, status)
	}
}

func TestReplicatePutRetriesOnFailure(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New()
	err := c.ReplicatePut(context.Background(), srv.Listener.Addr().String(), "r1", "foo", store.Value{})
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestReplicatePutExhaustsRetriesAndFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New()
	err := c.ReplicatePut(context.Background(), srv.Listener.Addr().String(), "r1", "foo", store.Value{})
	if err == nil {
		t.Fatal("expected error once retries are exhausted")
	}
}

func TestBroadcastVCUsesCorrectPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New()
	if err := c.BroadcastVC(context.Background(), srv.Listener.Addr().String(), causal.Clock{"r1": 1}); err != nil {
		t.Fatalf("BroadcastVC: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/reptorep/updatevc") {
		t.Fatalf("unexpected path %q", gotPath)
	}
}

func TestViewAddAndRemoveHitDistinctMethods(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New()
	c.ViewAdd(context.Background(), srv.Listener.Addr().String(), "r2:8090")
	if gotMethod != http.MethodPut {
		t.Fatalf("expected PUT, got %s", gotMethod)
	}
	c.ViewRemove(context.Background(), srv.Listener.Addr().String(), "r2:8090")
	if gotMethod != http.MethodDelete {
		t.Fatalf("expected DELETE, got %s", gotMethod)
	}
}

func TestHTTPErrorStatusSurfacesAsError(t *testing.T) {
	if err := httpErr(200, nil); err != nil {
		t.Fatalf("expected nil for 200, got %v", err)
	}
	if err := httpErr(500, nil); err == nil {
		t.Fatal("expected error for 500 status")
	}
}
