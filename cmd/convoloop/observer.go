package main

import (
	"fmt"
	"io"
	"time"

	"github.com/convoloop/convoloop/core"
)

// progressObserver prints run progress to the terminal so long reviews do
// not look hung.
type progressObserver struct {
	out io.Writer
}

func (p *progressObserver) OnIterationStart(iteration, maxIterations int) {
	fmt.Fprintf(p.out, "· iteration %d/%d\n", iteration, maxIterations)
}

func (p *progressObserver) OnToolCallStart(index, total int, name string, _ map[string]any) {
	fmt.Fprintf(p.out, "  → [%d/%d] %s\n", index+1, total, name)
}

func (p *progressObserver) OnToolCallComplete(_, name string, _ map[string]any, result core.ToolResult) {
	status := "ok"
	if !result.Success {
		status = "failed"
	}
	fmt.Fprintf(p.out, "  ← %s %s (%s)\n", name, status, result.Duration.Round(time.Millisecond))
}

func (p *progressObserver) ContextStatusSuffix() string { return "" }
