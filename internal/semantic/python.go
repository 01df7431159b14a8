package semantic

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wgomg/pulsegen/internal/config"
	"github.com/wgomg/pulsegen/internal/utils"
)

var (
	ErrPoolClosed = errors.New("embedding worker pool closed")
	ErrNoWorkers  = errors.New("no embedding workers available")
)

type Task struct {
	ctx    context.Context
	Text   string
	Result chan<- TaskResult
}

type TaskResult struct {
	Embedding Embedding
	Err       error
}

// PythonWorkerPool runs sentence-transformers in long-lived Python processes
// and hands texts to them over JSON lines.
type PythonWorkerPool struct {
	logger    *utils.Logger
	script    string
	venv      string
	cfg       *config.SemanticConfig
	taskQueue chan Task
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// alive counts running workers; noWorkers closes when it drops to zero.
	alive         atomic.Int32
	noWorkers     chan struct{}
	noWorkersOnce sync.Once

	// newCmd builds the worker process; replaced in tests.
	newCmd func() *exec.Cmd

	dimMu     sync.RWMutex
	dimension int
}

type PythonWorker struct {
	id      int
	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	mu      sync.Mutex
	pool    *PythonWorkerPool
}

type PythonRequest struct {
	Text string `json:"text"`
}

type PythonResponse struct {
	Embedding        []float64 `json:"embedding"`
	Error            string    `json:"error,omitempty"`
	ProcessingTimeMS int       `json:"processing_time_ms"`
}

type pythonReady struct {
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	EmbeddingDim int    `json:"embedding_dim"`
}

func NewPythonEmbedder(logger *utils.Logger, cfg *config.SemanticConfig) *PythonWorkerPool {
	pythonDir := filepath.Join(cfg.Python.ConfigDir, "python")
	script := filepath.Join(pythonDir, "embed_worker.py")
	venv := filepath.Join(cfg.Python.ConfigDir, "venv")

	p := &PythonWorkerPool{
		logger:    logger.Named("semantic"),
		script:    script,
		venv:      venv,
		cfg:       cfg,
		taskQueue: make(chan Task, 100),
		done:      make(chan struct{}),
		noWorkers: make(chan struct{}),
	}
	p.newCmd = func() *exec.Cmd {
		return exec.Command(filepath.Join(p.venv, "bin", "python"), p.script)
	}
	return p
}

// Initialize prepares the virtualenv and starts the workers.
func (p *PythonWorkerPool) Initialize() error {
	p.logger.Info(nil, "Initializing Python embedder with %d workers", p.cfg.WorkerCount)

	if err := p.setupEnvironment(); err != nil {
		return fmt.Errorf("failed to setup environment: %w", err)
	}

	if err := p.start(); err != nil {
		return err
	}

	p.logger.Info(nil, "Python embedder initialized successfully (model=%s)", p.cfg.Model)
	return nil
}

func (p *PythonWorkerPool) start() error {
	count := max(p.cfg.WorkerCount, 1)

	workers := make([]*PythonWorker, 0, count)
	for i := range count {
		w, err := p.startWorker(i)
		if err != nil {
			for _, started := range workers {
				started.close()
			}
			return fmt.Errorf("failed to start worker %d: %w", i, err)
		}
		workers = append(workers, w)
	}

	p.alive.Store(int32(len(workers)))
	for _, w := range workers {
		p.wg.Add(1)
		go p.runWorker(w)
	}
	return nil
}

// Embed hands text to the next free worker. Each call is bounded by the
// configured timeout; a worker that overruns it is killed and restarted.
func (p *PythonWorkerPool) Embed(ctx context.Context, text string) (Embedding, error) {
	select {
	case <-p.done:
		return nil, ErrPoolClosed
	case <-p.noWorkers:
		return nil, ErrNoWorkers
	default:
	}

	if p.cfg.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.cfg.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	result := make(chan TaskResult, 1)
	task := Task{ctx: ctx, Text: text, Result: result}

	select {
	case p.taskQueue <- task:
	case <-p.done:
		return nil, ErrPoolClosed
	case <-p.noWorkers:
		return nil, ErrNoWorkers
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-result:
		return res.Embedding, res.Err
	case <-p.done:
		return nil, ErrPoolClosed
	case <-p.noWorkers:
		return nil, ErrNoWorkers
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dimension is the embedding length reported by the workers, 0 before startup.
func (p *PythonWorkerPool) Dimension() int {
	p.dimMu.RLock()
	defer p.dimMu.RUnlock()
	return p.dimension
}

func (p *PythonWorkerPool) runWorker(worker *PythonWorker) {
	defer p.wg.Done()
	defer func() { worker.close() }()

	for {
		select {
		case <-p.done:
			return
		case task := <-p.taskQueue:
			if task.ctx.Err() != nil {
				task.Result <- TaskResult{Err: task.ctx.Err()}
				continue
			}

			emb, err := worker.processTask(task)
			if err == nil {
				task.Result <- TaskResult{Embedding: emb}
				continue
			}

			var pyErr *pythonError
			if errors.As(err, &pyErr) {
				task.Result <- TaskResult{Err: err}
				continue
			}

			// the process is in an unknown state; replace it
			task.Result <- TaskResult{Err: err}
			p.logger.Error(nil, "Python worker %d failed, restarting: %v", worker.id, err)
			worker.close()

			replacement, startErr := p.startWorker(worker.id)
			if startErr != nil {
				p.logger.Error(nil, "Failed to restart worker %d: %v", worker.id, startErr)
				worker = nil
				if p.alive.Add(-1) == 0 {
					p.logger.Error(nil, "No Python workers left")
					p.noWorkersOnce.Do(func() { close(p.noWorkers) })
				}
				return
			}
			worker = replacement
		}
	}
}

type pythonError struct {
	msg string
}

func (e *pythonError) Error() string {
	return "python error: " + e.msg
}

func (p *PythonWorkerPool) startWorker(id int) (*PythonWorker, error) {
	cmd := p.newCmd()
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}

	worker := &PythonWorker{
		id:      id,
		process: cmd,
		stdin:   stdin,
		stdout:  bufio.NewReaderSize(stdout, 1<<16),
		pool:    p,
	}

	config := map[string]any{
		"model_name":           p.cfg.Model,
		"normalize_embeddings": false,
	}

	configJSON, err := json.Marshal(config)
	if err != nil {
		worker.close()
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	configJSON = append(configJSON, '\n')
	if _, err := stdin.Write(configJSON); err != nil {
		worker.close()
		return nil, fmt.Errorf("send config: %w", err)
	}

	line, err := worker.stdout.ReadBytes('\n')
	if err != nil {
		worker.close()
		return nil, fmt.Errorf("failed to read READY message: %w", err)
	}

	var readyMsg pythonReady
	if err := json.Unmarshal(line, &readyMsg); err != nil {
		worker.close()
		return nil, fmt.Errorf("failed to parse ready message: %w", err)
	}

	if readyMsg.Status != "ready" {
		worker.close()
		return nil, fmt.Errorf("unexpected startup status: %s %s", readyMsg.Status, readyMsg.Error)
	}

	p.dimMu.Lock()
	p.dimension = readyMsg.EmbeddingDim
	p.dimMu.Unlock()

	p.logger.Debug(nil, "Python worker %d ready (embedding_dim=%d)", id, readyMsg.EmbeddingDim)

	return worker, nil
}

func (w *PythonWorker) processTask(task Task) (Embedding, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	reqJSON, err := json.Marshal(PythonRequest{Text: task.Text})
	if err != nil {
		return nil, &pythonError{msg: fmt.Sprintf("marshal request: %v", err)}
	}

	// a worker stuck past the caller's deadline is killed to unblock the read
	proc := w.process.Process
	stop := context.AfterFunc(task.ctx, func() { _ = proc.Kill() })
	defer stop()

	reqJSON = append(reqJSON, '\n')
	if _, err := w.stdin.Write(reqJSON); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	line, err := w.stdout.ReadBytes('\n')
	if err != nil {
		if ctxErr := task.ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("embedding timed out: %w", ctxErr)
		}
		return nil, fmt.Errorf("read stdout: %w", err)
	}

	var resp PythonResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != "" {
		return nil, &pythonError{msg: resp.Error}
	}
	if len(resp.Embedding) == 0 {
		return nil, &pythonError{msg: "empty embedding"}
	}

	w.pool.logger.Debug(nil, "Python worker %d embedded %d chars in %dms",
		w.id, utils.CharCount(task.Text), resp.ProcessingTimeMS)

	return Embedding(resp.Embedding), nil
}

func (w *PythonWorker) close() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stdin != nil {
		w.stdin.Close()
		w.stdin = nil
	}
	if w.process == nil || w.process.Process == nil {
		return
	}

	exited := make(chan struct{})
	go func() {
		_ = w.process.Wait()
		close(exited)
	}()

	shutdown := time.Duration(max(w.pool.cfg.Python.ProcessShutdownTimeout, 0)) * time.Second
	select {
	case <-exited:
	case <-time.After(shutdown):
		_ = w.process.Process.Kill()
		kill := time.Duration(max(w.pool.cfg.Python.ProcessKillTimeout, 1)) * time.Second
		select {
		case <-exited:
		case <-time.After(kill):
			w.pool.logger.Warn(nil, "Python worker %d did not exit after kill", w.id)
		}
	}
	w.process = nil
}

func (p *PythonWorkerPool) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
	return nil
}

func (p *PythonWorkerPool) setupEnvironment() error {
	if err := os.MkdirAll(p.cfg.Python.ConfigDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := p.extractScriptIfNeeded(); err != nil {
		return fmt.Errorf("failed to extract script: %w", err)
	}

	if err := p.checkPython(); err != nil {
		return fmt.Errorf("python check failed: %w", err)
	}

	if err := p.createVenv(); err != nil {
		return fmt.Errorf("failed to create venv: %w", err)
	}

	if err := p.installRequirements(); err != nil {
		return fmt.Errorf("failed to install requirements: %w", err)
	}

	return nil
}

func (p *PythonWorkerPool) checkPython() error {
	cmd := exec.Command("python3", "--version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("python3 not found: %w", err)
	}

	p.logger.Debug(nil, "Python3 found")
	return nil
}

func (p *PythonWorkerPool) createVenv() error {
	venvPython := filepath.Join(p.venv, "bin", "python")

	if _, err := os.Stat(venvPython); err == nil {
		p.logger.Debug(nil, "Virtual environment already exists at %s", p.venv)
		return nil
	}

	p.logger.Info(nil, "Creating virtual environment at %s", p.venv)

	cmd := exec.Command("python3", "-m", "venv", p.venv)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to create venv: %s: %w", output, err)
	}

	p.logger.Info(nil, "Virtual environment created successfully")
	return nil
}

func (p *PythonWorkerPool) installRequirements() error {
	venvPip := filepath.Join(p.venv, "bin", "pip")
	requirementsPath := filepath.Join(filepath.Dir(p.script), "requirements.txt")
	marker := filepath.Join(p.venv, ".requirements-installed")

	if _, err := os.Stat(marker); err == nil {
		p.logger.Debug(nil, "Python requirements already installed")
		return nil
	}

	p.logger.Info(nil, "Installing Python requirements from %s", requirementsPath)

	cmd := exec.Command(venvPip, "install", "-r", requirementsPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to install requirements: %s: %w", output, err)
	}

	if err := os.WriteFile(marker, []byte(time.Now().UTC().Format(time.RFC3339)), 0644); err != nil {
		p.logger.Warn(nil, "Failed to write requirements marker: %v", err)
	}

	p.logger.Info(nil, "Python requirements installed successfully")
	return nil
}

func (p *PythonWorkerPool) extractScriptIfNeeded() error {
	pythonDir := filepath.Dir(p.script)

	if err := os.MkdirAll(pythonDir, 0755); err != nil {
		return fmt.Errorf("failed to create python directory: %w", err)
	}

	if _, err := os.Stat(p.script); err == nil {
		p.logger.Debug(nil, "Python script already exists at %s", p.script)
		return nil
	}

	p.logger.Info(nil, "Extracting embedded Python script to %s", p.script)

	if err := os.WriteFile(p.script, []byte(embeddedPythonScript), 0755); err != nil {
		return fmt.Errorf("failed to write python script: %w", err)
	}

	requirementsPath := filepath.Join(pythonDir, "requirements.txt")
	requirementsContent := embeddedRequirements
	if requirementsContent == "" {
		requirementsContent = defaultRequirements
	}

	if err := os.WriteFile(requirementsPath, []byte(requirementsContent), 0644); err != nil {
		return fmt.Errorf("failed to write requirements file: %w", err)
	}

	p.logger.Info(nil, "Python script extracted successfully")
	return nil
}

// HealthCheck embeds a fixed sentence through the pool.
func (p *PythonWorkerPool) HealthCheck(ctx context.Context) error {
	if p.alive.Load() == 0 {
		return ErrNoWorkers
	}
	if _, err := p.Embed(ctx, "health check"); err != nil {
		return fmt.Errorf("health check: worker error: %w", err)
	}
	return nil
}
