// cmd/client is the CLI entry-point built with Cobra.
//
// Usage:
//
//	kvcli put mykey '"hello world"'       --server http://localhost:8090
//	kvcli get mykey                       --server http://localhost:8090
//	kvcli delete mykey                    --server http://localhost:8090
//	kvcli view add localhost:8091         --server http://localhost:8090
//	kvcli view list                       --server http://localhost:8090
//	kvcli shard ids                       --server http://localhost:8090
//	kvcli shard add-member s0 localhost:8091
//	kvcli reshard 3                       --server http://localhost:8090
//
// Causal metadata from each response is cached in a dotfile
// (~/.kvcli_causal.json, one entry per --server) and fed back into the
// next call automatically, so a sequence of kvcli invocations from the
// same shell reads its own writes.
package main

import (
	"context"
	"causalkv/internal/client"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "kvcli",
		Short: "CLI client for the distributed KV store",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8090", "Replica address to talk to")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(putCmd(), getCmd(), deleteCmd(), viewCmd(), shardCmd(), reshardCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── put ──────────────────────────────────────────────────────────────────────

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <json-value>",
		Short: "Store a key-value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			vc := loadCausalMetadata()
			resp, err := c.Put(context.Background(), args[0], json.RawMessage(args[1]), vc)
			if err != nil {
				return err
			}
			saveCausalMetadata(resp.CausalMetadata)
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── get ──────────────────────────────────────────────────────────────────────

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			vc := loadCausalMetadata()
			resp, err := c.Get(context.Background(), args[0], vc)
			if err == client.ErrNotFound {
				fmt.Printf("key %q not found\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			saveCausalMetadata(resp.CausalMetadata)
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── delete ───────────────────────────────────────────────────────────────────

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			vc := loadCausalMetadata()
			resp, err := c.Delete(context.Background(), args[0], vc)
			if err == client.ErrNotFound {
				fmt.Printf("key %q not found\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			saveCausalMetadata(resp.CausalMetadata)
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── view ─────────────────────────────────────────────────────────────────────

func viewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "View management commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <socket-address>",
		Short: "Add a replica to the view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			if err := c.ViewAdd(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("added %q to view\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <socket-address>",
		Short: "Remove a replica from the view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			if err := c.ViewRemove(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("removed %q from view\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every replica in the view",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			view, err := c.ViewList(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(view)
			return nil
		},
	})

	return cmd
}

// ─── shard ────────────────────────────────────────────────────────────────────

func shardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shard",
		Short: "Shard management commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ids",
		Short: "List every shard id",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.GetRaw(context.Background(), "/shard/ids")
			if err != nil {
				return err
			}
			fmt.Println(resp)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "members <id>",
		Short: "List the members of a shard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.GetRaw(context.Background(), "/shard/members/"+args[0])
			if err != nil {
				return err
			}
			fmt.Println(resp)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "key-count <id>",
		Short: "Show how many keys a shard's routing index attributes to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.GetRaw(context.Background(), "/shard/key-count/"+args[0])
			if err != nil {
				return err
			}
			fmt.Println(resp)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add-member <id> <socket-address>",
		Short: "Add a replica to a shard, triggering a full state transfer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			if err := c.ShardAddMember(context.Background(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("added %q to shard %q\n", args[1], args[0])
			return nil
		},
	})

	return cmd
}

// ─── reshard ──────────────────────────────────────────────────────────────────

func reshardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reshard <shard-count>",
		Short: "Rebuild the cluster's shard layout around N shards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var n int
			if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
				return fmt.Errorf("invalid shard count %q: %w", args[0], err)
			}
			c := client.New(serverAddr, timeout)
			if err := c.Reshard(context.Background(), n); err != nil {
				return err
			}
			fmt.Printf("resharded to %d shards\n", n)
			return nil
		},
	}
}

// ─── causal metadata cache ─────────────────────────────────────────────────────

func causalCacheFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kvcli_causal.json"
	}
	return filepath.Join(home, ".kvcli_causal.json")
}

// loadCausalMetadata returns the cached vector clock for the current
// --server, or nil if there's no cache yet. A missing or unreadable
// cache is not an error — it just means the next request carries no
// dependency, same as a brand new client.
func loadCausalMetadata() client.CausalMetadata {
	data, err := os.ReadFile(causalCacheFile())
	if err != nil {
		return nil
	}
	var all map[string]client.CausalMetadata
	if err := json.Unmarshal(data, &all); err != nil {
		return nil
	}
	return all[serverAddr]
}

func saveCausalMetadata(vc client.CausalMetadata) {
	if vc == nil {
		return
	}
	path := causalCacheFile()
	all := map[string]client.CausalMetadata{}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &all)
	}
	all[serverAddr] = vc
	data, err := json.Marshal(all)
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
