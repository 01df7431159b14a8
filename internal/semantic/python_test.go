package semantic

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wgomg/pulsegen/internal/config"
	"github.com/wgomg/pulsegen/internal/utils"
)

// TestHelperProcess stands in for embed_worker.py when re-executed by newHelperPool.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	in := bufio.NewScanner(os.Stdin)
	if !in.Scan() {
		os.Exit(1)
	}
	fmt.Println(`{"status":"ready","embedding_dim":2}`)

	for in.Scan() {
		var req PythonRequest
		if err := json.Unmarshal(in.Bytes(), &req); err != nil {
			fmt.Printf("{\"error\":%q}\n", err.Error())
			continue
		}
		switch req.Text {
		case "explode":
			fmt.Println(`{"error":"boom"}`)
		case "die":
			os.Exit(3)
		case "hang":
			time.Sleep(time.Minute)
		default:
			fmt.Printf("{\"embedding\":[%d,1],\"processing_time_ms\":1}\n", len(req.Text))
		}
	}
}

func newHelperPool(t *testing.T, workers int) *PythonWorkerPool {
	t.Helper()

	cfg := &config.SemanticConfig{
		Model:       "fake",
		WorkerCount: workers,
		Python: config.PythonConfig{
			ConfigDir:              t.TempDir(),
			ProcessShutdownTimeout: 1,
			ProcessKillTimeout:     1,
		},
	}
	p := NewPythonEmbedder(utils.NewDiscardLogger(), cfg)
	p.newCmd = func() *exec.Cmd {
		cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
		return cmd
	}
	if err := p.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPythonWorkerPoolEmbed(t *testing.T) {
	p := newHelperPool(t, 2)
	ctx := context.Background()

	emb, err := p.Embed(ctx, "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(emb) != 2 || emb[0] != 5 || emb[1] != 1 {
		t.Fatalf("unexpected embedding %v", emb)
	}
	if p.Dimension() != 2 {
		t.Fatalf("Dimension = %d", p.Dimension())
	}
}

func TestPythonWorkerPoolWorkerErrorKeepsWorker(t *testing.T) {
	p := newHelperPool(t, 1)
	ctx := context.Background()

	if _, err := p.Embed(ctx, "explode"); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected python error, got %v", err)
	}
	if _, err := p.Embed(ctx, "ok"); err != nil {
		t.Fatalf("worker should survive a reported error: %v", err)
	}
}

func TestPythonWorkerPoolRestartsDeadWorker(t *testing.T) {
	p := newHelperPool(t, 1)
	ctx := context.Background()

	if _, err := p.Embed(ctx, "die"); err == nil {
		t.Fatal("expected error from dead worker")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	emb, err := p.Embed(ctx, "back")
	if err != nil {
		t.Fatalf("Embed after restart: %v", err)
	}
	if emb[0] != 4 {
		t.Fatalf("unexpected embedding %v", emb)
	}
}

func TestPythonWorkerPoolClosed(t *testing.T) {
	p := newHelperPool(t, 1)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := p.Embed(context.Background(), "late"); err != ErrPoolClosed {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPythonWorkerPoolTimeoutRestartsWorker(t *testing.T) {
	p := newHelperPool(t, 1)
	p.cfg.TimeoutMs = 300

	start := time.Now()
	if _, err := p.Embed(context.Background(), "hang"); err == nil {
		t.Fatal("expected timeout from hung worker")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}

	p.cfg.TimeoutMs = 0
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	emb, err := p.Embed(ctx, "ok")
	if err != nil {
		t.Fatalf("Embed after timeout: %v", err)
	}
	if emb[0] != 2 {
		t.Fatalf("unexpected embedding %v", emb)
	}
}

func TestPythonWorkerPoolNoWorkersLeft(t *testing.T) {
	p := newHelperPool(t, 1)
	p.newCmd = func() *exec.Cmd {
		return exec.Command(filepath.Join(t.TempDir(), "missing-python"))
	}

	if _, err := p.Embed(context.Background(), "die"); err == nil {
		t.Fatal("expected error from dead worker")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := p.Embed(ctx, "next"); !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("expected ErrNoWorkers, got %v", err)
	}
	if err := p.HealthCheck(ctx); !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("HealthCheck = %v", err)
	}
}
