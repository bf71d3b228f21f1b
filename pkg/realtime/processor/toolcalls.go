package processor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/rtbridge/pkg/realtime/dispatch"
	"github.com/MrWong99/rtbridge/pkg/realtime/events"
)

// ToolRunner executes a named tool with JSON arguments and returns its JSON
// result. *tools.Registry implements it.
type ToolRunner interface {
	Call(ctx context.Context, name, args string) (string, error)
}

// ToolResult describes one completed tool invocation.
type ToolResult struct {
	CallID   string
	Name     string
	Args     string
	Output   string
	Err      error
	Duration time.Duration
}

// ToolCalls runs function calls requested by the model. Argument deltas are
// accumulated per call id; when the arguments are complete the tool runs on
// its own goroutine and its output is returned to the model followed by a
// response.create.
type ToolCalls struct {
	base
	sender Sender
	runner ToolRunner
	onDone func(ToolResult)
	log    *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	args  map[string]*strings.Builder
	names map[string]string
}

// NewToolCalls creates a tool call processor. onDone, if non-nil, runs on the
// tool's goroutine after the result was sent.
func NewToolCalls(s Sender, runner ToolRunner, onDone func(ToolResult), opts ...Option) *ToolCalls {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	t := &ToolCalls{
		base:   newBase("tool-calls"),
		sender: s,
		runner: runner,
		onDone: onDone,
		log:    o.log,
		now:    o.now,
		ctx:    ctx,
		cancel: cancel,
		args:   make(map[string]*strings.Builder),
		names:  make(map[string]string),
	}
	dispatch.MustRegister(t.d, t.handleItemAdded)
	dispatch.MustRegister(t.d, t.handleDelta)
	dispatch.MustRegister(t.d, t.handleDone)
	return t
}

func (t *ToolCalls) handleItemAdded(ev *events.ResponseOutputItemAdded) {
	if ev.Item.Type != events.ItemTypeFunctionCall || ev.Item.CallID == "" {
		return
	}
	t.mu.Lock()
	t.names[ev.Item.CallID] = ev.Item.Name
	t.mu.Unlock()
}

func (t *ToolCalls) handleDelta(ev *events.ResponseFunctionCallArgumentsDelta) {
	t.mu.Lock()
	sb, ok := t.args[ev.CallID]
	if !ok {
		sb = &strings.Builder{}
		t.args[ev.CallID] = sb
	}
	sb.WriteString(ev.Delta)
	t.mu.Unlock()
}

func (t *ToolCalls) handleDone(ev *events.ResponseFunctionCallArgumentsDone) {
	t.mu.Lock()
	args := ev.Arguments
	if sb, ok := t.args[ev.CallID]; ok && args == "" {
		args = sb.String()
	}
	name := ev.Name
	if name == "" {
		name = t.names[ev.CallID]
	}
	delete(t.args, ev.CallID)
	delete(t.names, ev.CallID)
	t.mu.Unlock()

	if name == "" {
		t.log.Warn("processor: function call without name", "call_id", ev.CallID)
		return
	}

	callID := ev.CallID
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(callID, name, args)
	}()
}

func (t *ToolCalls) run(callID, name, args string) {
	start := t.now()
	res := ToolResult{CallID: callID, Name: name, Args: args}
	res.Output, res.Err = t.runner.Call(t.ctx, name, args)
	res.Duration = t.now().Sub(start)
	if res.Err != nil {
		t.log.Warn("processor: tool failed", "tool", name, "call_id", callID, "err", res.Err)
		out, _ := json.Marshal(map[string]string{"error": res.Err.Error()})
		res.Output = string(out)
	}

	if err := send(t.sender, events.NewFunctionCallOutput(callID, res.Output)); err != nil {
		t.log.Error("processor: send tool output", "tool", name, "err", err)
	} else if err := send(t.sender, &events.ResponseCreate{}); err != nil {
		t.log.Error("processor: send response.create", "tool", name, "err", err)
	}
	if t.onDone != nil {
		t.onDone(res)
	}
}

// Close cancels running tools and waits for their goroutines to finish.
func (t *ToolCalls) Close() {
	t.cancel()
	t.wg.Wait()
}
