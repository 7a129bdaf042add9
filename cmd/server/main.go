// cmd/server is the main entrypoint for a replica in the distributed
// key-value store.
//
// Configuration comes from the environment, per spec.md §6, with flags
// available as overrides for local testing:
//
//	SOCKET_ADDRESS   this replica's own address, e.g. "localhost:8090"
//	VIEW             comma-separated list of every replica's address
//	SHARD_COUNT      optional initial shard count
//
// Example — bring up a 6-replica, 2-shard cluster on one machine:
//
//	SOCKET_ADDRESS=localhost:8090 VIEW=localhost:8090,localhost:8091,localhost:8092,localhost:8093,localhost:8094,localhost:8095 SHARD_COUNT=2 ./server
//	SOCKET_ADDRESS=localhost:8091 VIEW=... SHARD_COUNT=2 ./server
//	...
package main

import (
	"context"
	"causalkv/internal/api"
	"causalkv/internal/coordinator"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	addrFlag := flag.String("addr", "", "Override SOCKET_ADDRESS")
	viewFlag := flag.String("view", "", "Override VIEW")
	shardCountFlag := flag.Int("shard-count", 0, "Override SHARD_COUNT")
	dataDir := flag.String("data-dir", "/tmp/kvstore", "Directory for WAL and snapshots")
	flag.Parse()

	self := firstNonEmpty(*addrFlag, os.Getenv("SOCKET_ADDRESS"))
	if self == "" {
		log.Fatal("FATAL: SOCKET_ADDRESS must be set (or pass -addr)")
	}

	view := firstNonEmpty(*viewFlag, os.Getenv("VIEW"))
	var peers []string
	if view != "" {
		for _, addr := range strings.Split(view, ",") {
			addr = strings.TrimSpace(addr)
			if addr != "" && addr != self {
				peers = append(peers, addr)
			}
		}
	}

	shardCount := *shardCountFlag
	if shardCount == 0 {
		if n, err := strconv.Atoi(os.Getenv("SHARD_COUNT")); err == nil {
			shardCount = n
		}
	}

	nodeDataDir := strings.ReplaceAll(self, ":", "_")
	replica, err := coordinator.New(self, *dataDir+"/"+nodeDataDir)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer replica.Close()

	joinCtx, cancelJoin := context.WithTimeout(context.Background(), 10*time.Second)
	if err := replica.Join(joinCtx, peers, shardCount); err != nil {
		cancelJoin()
		log.Fatalf("join: %v", err)
	}
	cancelJoin()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(), api.Recovery())

	handler := api.NewHandler(replica)
	handler.Register(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"replica": self,
			"status":  "ok",
			"shard":   replica.NodeShardID(),
		})
	})

	srv := &http.Server{
		Addr:         strings.TrimPrefix(self, "http://"),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("replica %s listening (shard=%s)", self, replica.NodeShardID())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Background snapshot every 60 seconds — a local recovery optimisation,
	// not a substitute for peer-sync state transfer.
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := replica.Store().Snapshot(); err != nil {
				log.Printf("snapshot error: %v", err)
			} else {
				log.Printf("snapshot saved")
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down replica", self)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := replica.Store().Snapshot(); err != nil {
		log.Printf("final snapshot error: %v", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
