package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a single hook run.
const DefaultTimeout = 5 * time.Second

// ErrHookFailed is returned when a hook reports success=false.
var ErrHookFailed = errors.New("hook reported failure")

// Executor runs hooks with a timeout.
type Executor struct {
	timeout time.Duration
}

// NewExecutor creates an Executor. A non-positive timeout uses DefaultTimeout.
func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{timeout: timeout}
}

// Timeout returns the per-run limit.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Run starts the hook in its directory, writes req to its stdin and parses
// its stdout.
func (e *Executor) Run(ctx context.Context, h *Hook, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if req.Config == nil {
		req.Config = h.Manifest.Config
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	cmd := exec.CommandContext(ctx, h.Executable)
	cmd.Dir = h.Path
	cmd.Stdin = bytes.NewReader(body)
	// Children of a killed hook may still hold the output pipes.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("hook %s timed out after %s", h.Manifest.Name, e.timeout)
	}
	if err != nil {
		if s := stderr.String(); s != "" {
			return nil, fmt.Errorf("hook %s failed: %w, stderr: %s", h.Manifest.Name, err, s)
		}
		return nil, fmt.Errorf("hook %s failed: %w", h.Manifest.Name, err)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return &Response{Success: true}, nil
	}

	var resp Response
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse hook response: %w, stdout: %s", err, out)
	}
	if !resp.Success {
		return &resp, fmt.Errorf("%w: %s: %s", ErrHookFailed, h.Manifest.Name, resp.Error)
	}

	return &resp, nil
}

// Dispatcher fans a request out to every interested hook in the background.
type Dispatcher struct {
	manager  *Manager
	executor *Executor
	wg       sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(manager *Manager, executor *Executor) *Dispatcher {
	return &Dispatcher{manager: manager, executor: executor}
}

// Dispatch runs every hook that wants req.Event. It returns at once; failures
// are logged. It returns the number of hooks started.
func (d *Dispatcher) Dispatch(req Request) int {
	hooks := d.manager.For(req.Event)

	for _, h := range hooks {
		d.wg.Add(1)
		go func(h *Hook) {
			defer d.wg.Done()

			start := time.Now()
			if _, err := d.executor.Run(context.Background(), h, req); err != nil {
				log.Error().Str("component", "hook").Str("hook", h.Manifest.Name).Err(err).Msg("Hook failed")
				return
			}
			log.Debug().
				Str("component", "hook").
				Str("hook", h.Manifest.Name).
				Dur("took", time.Since(start)).
				Msg("Hook ran")
		}(h)
	}

	return len(hooks)
}

// Wait blocks until every dispatched hook has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
