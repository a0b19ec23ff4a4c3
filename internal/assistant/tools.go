package assistant

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// ToolFunc executes one assistant function call and returns the JSON
// payload to hand back to the run.
type ToolFunc func(arguments string) (string, error)

// Dispatcher resolves assistant tool calls to registered functions.
// Unregistered functions answer with a not-implemented payload so the run
// can finish instead of hanging in requires_action.
type Dispatcher struct {
	funcs map[string]ToolFunc
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{funcs: make(map[string]ToolFunc)}
}

// Register binds a function name to its implementation.
func (d *Dispatcher) Register(name string, fn ToolFunc) {
	d.funcs[name] = fn
}

// Dispatch produces one output per tool call, never fewer: a run blocked on
// tool outputs needs an answer for every call to make progress.
func (d *Dispatcher) Dispatch(calls []ToolCall) []ToolOutput {
	outputs := make([]ToolOutput, 0, len(calls))
	for _, call := range calls {
		outputs = append(outputs, ToolOutput{
			ToolCallID: call.ID,
			Output:     d.dispatchOne(call),
		})
	}
	return outputs
}

func (d *Dispatcher) dispatchOne(call ToolCall) string {
	fn, ok := d.funcs[call.Name]
	if !ok {
		slog.Warn("Dispatcher: unimplemented tool requested", "function", call.Name)
		return notImplementedPayload(call.Name)
	}
	out, err := fn(call.Arguments)
	if err != nil {
		slog.Error("Dispatcher: tool execution failed", "function", call.Name, "error", err)
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(payload)
	}
	return out
}

func notImplementedPayload(name string) string {
	payload, _ := json.Marshal(map[string]string{
		"error": fmt.Sprintf("Función %s no implementada.", name),
	})
	return string(payload)
}
