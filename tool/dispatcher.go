package tool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/convoloop/convoloop/core"
	"github.com/convoloop/convoloop/logging"
)

// Dispatcher executes a batch of tool requests against a registry and
// returns exactly one result per request, in request order. Guarantees:
//   - result[i] corresponds to request[i]
//   - a panicking tool yields a failed result, never a crashed batch
//   - an unknown tool or failed call yields Success=false with an error
//     string, so the model always sees what happened
//   - ctx cancellation is checked before each call starts; calls already in
//     flight run to completion under their own ctx handling
type Dispatcher struct {
	registry    *Registry
	maxParallel int
	logger      logging.Logger
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// MaxParallel bounds concurrent tool executions within one batch.
	// Values below 2 dispatch sequentially.
	MaxParallel int
	Logger      logging.Logger
}

// NewDispatcher constructs a Dispatcher over the given registry. Batches run
// sequentially unless MaxParallel is raised.
func NewDispatcher(registry *Registry, optFns ...func(o *DispatcherOptions)) *Dispatcher {
	opts := DispatcherOptions{MaxParallel: 1, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Dispatcher{
		registry:    registry,
		maxParallel: opts.MaxParallel,
		logger:      opts.Logger,
	}
}

// Registry exposes the dispatcher's capability set, mainly so subagent
// spawners can derive restricted copies.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Execute runs the whole batch and returns one result per request. It never
// returns an error: failures become per-result error strings.
func (d *Dispatcher) Execute(ctx context.Context, requests []core.ToolRequest) []core.ToolResult {
	n := len(requests)
	if n == 0 {
		return nil
	}

	results := make([]core.ToolResult, n)

	// Fast path: single call or sequential dispatch.
	if n == 1 || d.maxParallel < 2 {
		for i, req := range requests {
			results[i] = d.executeOne(ctx, req)
		}
		return results
	}

	maxPar := d.maxParallel
	if maxPar > n {
		maxPar = n
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxPar)

	batchStart := time.Now()
	for i := range requests {
		if ctx.Err() != nil {
			// Remaining requests get cancellation results so positional
			// pairing holds.
			for j := i; j < n; j++ {
				results[j] = cancelledResult(requests[j], ctx.Err())
			}
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, req core.ToolRequest) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = d.executeOne(ctx, req)
		}(i, requests[i])
	}
	wg.Wait()

	d.logger.Debug("tool.batch.complete",
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
	return results
}

// executeOne runs a single request with panic isolation.
func (d *Dispatcher) executeOne(ctx context.Context, req core.ToolRequest) core.ToolResult {
	if err := ctx.Err(); err != nil {
		return cancelledResult(req, err)
	}

	impl, ok := d.registry.Get(req.Name)
	if !ok {
		d.logger.Warn("tool.call.unknown", "tool", req.Name)
		return core.ToolResult{
			Name:    req.Name,
			Success: false,
			Error:   fmt.Sprintf("tool %s not found", req.Name),
		}
	}

	start := time.Now()
	var (
		result *Result
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("tool %s panicked: %v", req.Name, r)
				d.logger.Error("tool.call.panic",
					"tool", req.Name,
					"recover", fmt.Sprintf("%v", r),
					"stack", string(debug.Stack()),
				)
			}
		}()
		result, err = impl.Call(ctx, req.Args)
	}()
	dur := time.Since(start)

	d.logger.Info("tool.call.executed",
		"tool", req.Name,
		"duration_ms", dur.Milliseconds(),
		"error", err != nil,
	)

	if err != nil {
		return core.ToolResult{
			Name:     req.Name,
			Success:  false,
			Error:    err.Error(),
			Duration: dur,
		}
	}
	return core.ToolResult{
		Name:     req.Name,
		Success:  true,
		Content:  result.Content,
		Metadata: result.Metadata,
		Duration: dur,
	}
}

func cancelledResult(req core.ToolRequest, err error) core.ToolResult {
	return core.ToolResult{
		Name:    req.Name,
		Success: false,
		Error:   fmt.Sprintf("cancelled before execution: %v", err),
	}
}
