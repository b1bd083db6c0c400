package tool

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoloop/convoloop/core"
)

func reqOf(id, name string) core.ToolRequest {
	return core.ToolRequest{ID: id, Name: name, Args: map[string]any{}}
}

func slowTool(name string, delay time.Duration, running *atomic.Int32, peak *atomic.Int32) Tool {
	return NewFunctionTool(name, "sleeps then answers",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(ctx context.Context, _ map[string]any) (*Result, error) {
			if running != nil {
				cur := running.Add(1)
				for {
					old := peak.Load()
					if cur <= old || peak.CompareAndSwap(old, cur) {
						break
					}
				}
				defer running.Add(-1)
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return NewResult(name + " done"), nil
		},
	)
}

func TestExecute_OrderPreserved(t *testing.T) {
	registry := NewRegistry()
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("tool%d", i)
		n := name
		registry.Add(NewFunctionTool(n, "echoes its name",
			map[string]any{"type": "object", "properties": map[string]any{}},
			func(context.Context, map[string]any) (*Result, error) {
				return NewResult(n), nil
			},
		))
	}
	d := NewDispatcher(registry, func(o *DispatcherOptions) { o.MaxParallel = 4 })

	requests := []core.ToolRequest{
		reqOf("1", "tool3"), reqOf("2", "tool1"), reqOf("3", "tool0"), reqOf("4", "tool2"),
	}
	results := d.Execute(context.Background(), requests)
	require.Len(t, results, 4)
	for i, res := range results {
		assert.Equal(t, requests[i].Name, res.Name)
		assert.Equal(t, requests[i].Name, res.Content)
		assert.True(t, res.Success)
	}
}

func TestExecute_ParallelismBounded(t *testing.T) {
	var running, peak atomic.Int32
	registry := NewRegistry(slowTool("slow", 20*time.Millisecond, &running, &peak))
	d := NewDispatcher(registry, func(o *DispatcherOptions) { o.MaxParallel = 2 })

	requests := make([]core.ToolRequest, 6)
	for i := range requests {
		requests[i] = reqOf(fmt.Sprintf("%d", i), "slow")
	}
	results := d.Execute(context.Background(), requests)
	require.Len(t, results, 6)
	for _, res := range results {
		assert.True(t, res.Success)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Greater(t, peak.Load(), int32(0))
}

func TestExecute_UnknownTool(t *testing.T) {
	d := NewDispatcher(NewRegistry())
	results := d.Execute(context.Background(), []core.ToolRequest{reqOf("1", "missing")})
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "not found")
}

func TestExecute_PanicIsolated(t *testing.T) {
	panicking := NewFunctionTool("explode", "panics",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(context.Context, map[string]any) (*Result, error) {
			panic("kaboom")
		},
	)
	ok := NewFunctionTool("fine", "works",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(context.Context, map[string]any) (*Result, error) {
			return NewResult("still here"), nil
		},
	)
	d := NewDispatcher(NewRegistry(panicking, ok))

	results := d.Execute(context.Background(), []core.ToolRequest{
		reqOf("1", "explode"), reqOf("2", "fine"),
	})
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "panicked")
	assert.Contains(t, results[0].Error, "kaboom")
	assert.True(t, results[1].Success)
	assert.Equal(t, "still here", results[1].Content)
}

func TestExecute_CancelledContext(t *testing.T) {
	registry := NewRegistry(slowTool("slow", time.Millisecond, nil, nil))
	d := NewDispatcher(registry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := d.Execute(ctx, []core.ToolRequest{reqOf("1", "slow"), reqOf("2", "slow")})
	require.Len(t, results, 2)
	for _, res := range results {
		assert.False(t, res.Success)
		assert.True(t, strings.Contains(res.Error, "cancel"), "got %q", res.Error)
	}
}

func TestExecute_EmptyBatch(t *testing.T) {
	d := NewDispatcher(NewRegistry())
	assert.Nil(t, d.Execute(context.Background(), nil))
}

func TestExecute_FailedCallKeepsDuration(t *testing.T) {
	failing := NewFunctionTool("fail", "fails",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(context.Context, map[string]any) (*Result, error) {
			time.Sleep(time.Millisecond)
			return nil, fmt.Errorf("nope")
		},
	)
	d := NewDispatcher(NewRegistry(failing))

	results := d.Execute(context.Background(), []core.ToolRequest{reqOf("1", "fail")})
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Greater(t, results[0].Duration, time.Duration(0))
}
