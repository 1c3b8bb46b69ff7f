// Package sandbox is the gate's trial-execution boundary. Real OS-level
// isolation is out of scope; the manager still upholds the contract around
// it: hard wall-clock timeouts, default-deny capabilities, and approximate
// resource reporting.
package sandbox

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultTimeout = 5 * time.Second

// Status of a sandbox instance.
type Status string

const (
	StatusReady     Status = "ready"
	StatusExecuting Status = "executing"
	StatusDestroyed Status = "destroyed"
)

// Options configure one sandbox instance. Network and filesystem access are
// opt-in and default to denied; AllowedModules is an explicit whitelist,
// never inferred.
type Options struct {
	Timeout          time.Duration `json:"timeout"`
	MemoryLimitBytes uint64        `json:"memory_limit_bytes,omitempty"`
	AllowedModules   []string      `json:"allowed_modules,omitempty"`
	NetworkAccess    bool          `json:"network_access,omitempty"`
	FileSystemAccess bool          `json:"filesystem_access,omitempty"`
}

// Result reports one trial execution.
type Result struct {
	Success         bool    `json:"success"`
	Output          string  `json:"output,omitempty"`
	Error           string  `json:"error,omitempty"`
	TimedOut        bool    `json:"timed_out,omitempty"`
	DurationMS      float64 `json:"duration_ms"`
	PeakMemoryBytes uint64  `json:"peak_memory_bytes,omitempty"`
}

// Runner executes candidate code under the sandbox's declared capabilities.
// Implementations must honor ctx cancellation; the manager abandons a runner
// that does not and reports a timeout anyway.
type Runner interface {
	Run(ctx context.Context, code string, opts Options) (string, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, code string, opts Options) (string, error)

func (f RunnerFunc) Run(ctx context.Context, code string, opts Options) (string, error) {
	return f(ctx, code, opts)
}

// stubRunner is the default: it accepts the code without executing it. Trial
// semantics then come entirely from the telemetry the caller supplies to the
// post-modification rules.
type stubRunner struct{}

func (stubRunner) Run(_ context.Context, _ string, _ Options) (string, error) {
	return "trial execution skipped: no runner configured", nil
}

type instance struct {
	id      string
	options Options
	status  Status
	created time.Time
}

// Manager owns sandbox lifecycles.
type Manager struct {
	mu        sync.Mutex
	instances map[string]*instance
	runner    Runner
	logger    *zap.Logger
}

// Option adjusts manager construction.
type Option func(*Manager)

func WithRunner(runner Runner) Option {
	return func(m *Manager) { m.runner = runner }
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func NewManager(opts ...Option) *Manager {
	manager := &Manager{
		instances: map[string]*instance{},
		runner:    stubRunner{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager
}

// Create registers a sandbox. Duplicate ids are rejected; a zero timeout
// gets the default.
func (m *Manager) Create(id string, options Options) (Status, error) {
	if id == "" {
		return "", fmt.Errorf("sandbox id is required")
	}
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.instances[id]; ok && existing.status != StatusDestroyed {
		return "", fmt.Errorf("sandbox %s already exists", id)
	}
	m.instances[id] = &instance{
		id:      id,
		options: options,
		status:  StatusReady,
		created: time.Now().UTC(),
	}
	m.logger.Debug("sandbox created",
		zap.String("sandbox_id", id),
		zap.Duration("timeout", options.Timeout),
		zap.Bool("network_access", options.NetworkAccess),
		zap.Bool("filesystem_access", options.FileSystemAccess))
	return StatusReady, nil
}

// Execute races the runner against the sandbox's wall-clock timeout. The
// timeout always wins: a hung runner yields a timed-out failure, never a
// hang. Memory reporting is a heap high-water approximation.
func (m *Manager) Execute(ctx context.Context, id string, code string) (Result, error) {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return Result{}, fmt.Errorf("sandbox %s not found", id)
	}
	if inst.status == StatusDestroyed {
		m.mu.Unlock()
		return Result{}, fmt.Errorf("sandbox %s is destroyed", id)
	}
	if inst.status == StatusExecuting {
		m.mu.Unlock()
		return Result{}, fmt.Errorf("sandbox %s is busy", id)
	}
	inst.status = StatusExecuting
	options := inst.options
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if current, ok := m.instances[id]; ok && current.status == StatusExecuting {
			current.status = StatusReady
		}
		m.mu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, options.Timeout)
	defer cancel()

	var memBefore runtime.MemStats
	runtime.ReadMemStats(&memBefore)

	type runOutcome struct {
		output string
		err    error
	}
	outcomeCh := make(chan runOutcome, 1)
	started := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcomeCh <- runOutcome{err: fmt.Errorf("runner panicked: %v", r)}
			}
		}()
		output, err := m.runner.Run(runCtx, code, options)
		outcomeCh <- runOutcome{output: output, err: err}
	}()

	result := Result{}
	select {
	case outcome := <-outcomeCh:
		result.DurationMS = float64(time.Since(started).Microseconds()) / 1000
		if outcome.err != nil {
			result.Error = outcome.err.Error()
		} else {
			result.Success = true
			result.Output = outcome.output
		}
	case <-runCtx.Done():
		result.DurationMS = float64(time.Since(started).Microseconds()) / 1000
		result.TimedOut = true
		result.Error = fmt.Sprintf("execution exceeded %s", options.Timeout)
	}

	var memAfter runtime.MemStats
	runtime.ReadMemStats(&memAfter)
	if memAfter.HeapAlloc > memBefore.HeapAlloc {
		result.PeakMemoryBytes = memAfter.HeapAlloc - memBefore.HeapAlloc
	}

	m.logger.Debug("sandbox execution finished",
		zap.String("sandbox_id", id),
		zap.Bool("success", result.Success),
		zap.Bool("timed_out", result.TimedOut),
		zap.Float64("duration_ms", result.DurationMS))
	return result, nil
}

// Destroy tears a sandbox down. Destroying a missing sandbox is an error so
// callers notice leaked ids.
func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return fmt.Errorf("sandbox %s not found", id)
	}
	inst.status = StatusDestroyed
	delete(m.instances, id)
	return nil
}

// StatusOf reports the current status of a sandbox.
func (m *Manager) StatusOf(id string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return "", false
	}
	return inst.status, true
}
