package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperengineering/ripple/internal/queue"
	"github.com/hyperengineering/ripple/internal/registry"
	"github.com/hyperengineering/ripple/internal/store"
	"github.com/hyperengineering/ripple/internal/types"
)

// executeCmd runs the root command with captured output.
func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	// Cobra parses into package-level flag variables; reset them so
	// values from previous tests do not leak.
	registryJSONOutput = false
	queueDBOverride = ""
	queueJSONOutput = false
	drainQueueName = ""
	drainLimit = 100

	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)

	return out.String(), err
}

const shopIndex = `
entities:
  - type: Order
    root: true
    indexed: [number]
  - type: OrderLine
    indexed: [sku, qty]
    associations:
      - property: orderId
        target: Order
        toward_holder: true
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRegistryCheck_Valid(t *testing.T) {
	path := writeFile(t, "index.yaml", shopIndex)

	out, err := executeCmd(t, "registry", "check", path)
	if err != nil {
		t.Fatalf("registry check error = %v", err)
	}

	if !strings.Contains(out, "Roots:       Order") {
		t.Errorf("output missing roots:\n%s", out)
	}
	if !strings.Contains(out, "Types:       2") {
		t.Errorf("output missing type count:\n%s", out)
	}
}

func TestRegistryCheck_JSON(t *testing.T) {
	path := writeFile(t, "index.yaml", shopIndex)

	out, err := executeCmd(t, "registry", "check", "--json", path)
	if err != nil {
		t.Fatalf("registry check error = %v", err)
	}

	var result struct {
		Fingerprint string   `json:"fingerprint"`
		Queue       string   `json:"queue"`
		Roots       []string `json:"roots"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if result.Queue != "idx-"+result.Fingerprint {
		t.Errorf("queue = %q, fingerprint = %q", result.Queue, result.Fingerprint)
	}
	if len(result.Roots) != 1 || result.Roots[0] != "Order" {
		t.Errorf("roots = %v, want [Order]", result.Roots)
	}
}

func TestRegistryCheck_InvalidFile(t *testing.T) {
	path := writeFile(t, "index.yaml", `
entities:
  - type: OrderLine
    associations:
      - property: orderId
        target: Invoice
`)

	_, err := executeCmd(t, "registry", "check", path)
	if err == nil || !strings.Contains(err.Error(), "Invoice") {
		t.Errorf("registry check error = %v, want unknown target Invoice", err)
	}
}

func seedQueue(t *testing.T, dbPath, name string, ids ...string) {
	t.Helper()
	q, err := store.NewSQLiteQueue(dbPath, queue.Options{Name: name})
	if err != nil {
		t.Fatalf("NewSQLiteQueue() error = %v", err)
	}
	defer q.Close()
	for _, id := range ids {
		if err := q.Accept(context.Background(), types.Ref("Order", id), types.OpIndex); err != nil {
			t.Fatalf("Accept() error = %v", err)
		}
	}
}

func TestQueueStats(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ripple.db")
	seedQueue(t, dbPath, "catalog", "1", "2")
	seedQueue(t, dbPath, "orders", "3")

	out, err := executeCmd(t, "queue", "stats", "--db", dbPath, "--json")
	if err != nil {
		t.Fatalf("queue stats error = %v", err)
	}

	var stats map[string]int
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if stats["catalog"] != 2 || stats["orders"] != 1 {
		t.Errorf("stats = %v, want catalog=2 orders=1", stats)
	}
}

func TestQueueStats_Empty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ripple.db")

	out, err := executeCmd(t, "queue", "stats", "--db", dbPath)
	if err != nil {
		t.Fatalf("queue stats error = %v", err)
	}
	if !strings.Contains(out, "No pending items.") {
		t.Errorf("output = %q", out)
	}
}

func TestQueueDrain(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ripple.db")
	seedQueue(t, dbPath, "catalog", "1", "2", "3")

	out, err := executeCmd(t, "queue", "drain", "--db", dbPath, "--queue", "catalog", "--limit", "2")
	if err != nil {
		t.Fatalf("queue drain error = %v", err)
	}

	if !strings.Contains(out, "Order#1") || !strings.Contains(out, "Order#2") {
		t.Errorf("output missing drained items:\n%s", out)
	}
	if strings.Contains(out, "Order#3") {
		t.Errorf("drained beyond limit:\n%s", out)
	}

	out, err = executeCmd(t, "queue", "stats", "--db", dbPath, "--json")
	if err != nil {
		t.Fatalf("queue stats error = %v", err)
	}
	if !strings.Contains(out, `"catalog": 1`) {
		t.Errorf("stats after drain = %s", out)
	}
}

func TestQueueDrain_InvalidLimit(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ripple.db")

	if _, err := executeCmd(t, "queue", "drain", "--db", dbPath, "--limit", "0"); err == nil {
		t.Error("queue drain --limit 0 expected error, got nil")
	}
}

func TestQueueDrain_DefaultsToServeQueue(t *testing.T) {
	// Given: serve's queue for the registry and a stray item in another queue
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ripple.db")
	t.Setenv("RIPPLE_CONFIG_PATH", filepath.Join(dir, "absent.yaml"))
	t.Setenv("RIPPLE_REGISTRY_PATH", writeFile(t, "index.yaml", shopIndex))
	t.Setenv("RIPPLE_QUEUE_NAME", "")

	reg, err := registry.Parse([]byte(shopIndex))
	if err != nil {
		t.Fatalf("registry.Parse() error = %v", err)
	}
	seedQueue(t, dbPath, "idx-"+reg.FingerprintHex(), "1")
	seedQueue(t, dbPath, queue.DefaultName, "9")

	// When: drain runs without --queue
	out, err := executeCmd(t, "queue", "drain", "--db", dbPath)
	if err != nil {
		t.Fatalf("queue drain error = %v", err)
	}

	// Then: it drains the queue serve writes to
	if !strings.Contains(out, "Order#1") {
		t.Errorf("output missing serve queue item:\n%s", out)
	}
	if strings.Contains(out, "Order#9") {
		t.Errorf("drained the wrong queue:\n%s", out)
	}
}

func TestQueueDrain_ConfiguredQueueName(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ripple.db")
	t.Setenv("RIPPLE_CONFIG_PATH", filepath.Join(dir, "absent.yaml"))
	t.Setenv("RIPPLE_QUEUE_NAME", "catalog")
	t.Setenv("RIPPLE_REGISTRY_PATH", filepath.Join(dir, "missing-index.yaml"))
	seedQueue(t, dbPath, "catalog", "4")

	out, err := executeCmd(t, "queue", "drain", "--db", dbPath, "--json")
	if err != nil {
		t.Fatalf("queue drain error = %v", err)
	}

	var items []types.QueueItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(items) != 1 || items[0].Root != types.Ref("Order", "4") {
		t.Errorf("items = %+v, want [Order#4]", items)
	}
}

func TestQueueDrain_UnreadableRegistry(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RIPPLE_CONFIG_PATH", filepath.Join(dir, "absent.yaml"))
	t.Setenv("RIPPLE_QUEUE_NAME", "")
	t.Setenv("RIPPLE_REGISTRY_PATH", filepath.Join(dir, "missing-index.yaml"))

	_, err := executeCmd(t, "queue", "drain", "--db", filepath.Join(dir, "ripple.db"))
	if err == nil || !strings.Contains(err.Error(), "--queue") {
		t.Errorf("queue drain error = %v, want hint to pass --queue", err)
	}
}
