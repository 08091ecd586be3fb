// Package executors holds concrete collaborators.Executor
// implementations. The core scheduler/verify packages only ever see the
// collaborators.Executor interface; these are the pluggable backends an
// operator wires in at startup.
package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fluxforge/orchestrator/control_plane/collaborators"
	"github.com/fluxforge/orchestrator/control_plane/logging"
	"github.com/fluxforge/orchestrator/control_plane/types"
)

// HTTPExecutor runs a task by POSTing it to a remote agent process's
// /execute endpoint, keyed by the first name in the capability list
// Execute is given (the claiming agent's capabilities, as the task
// runner calls it).
// Grounded on the teacher's jobs.go Dispatcher (same request
// construction and client timeout), adapted from its fire-and-forget
// "202 Accepted, result reported later" semantics to a synchronous
// call, since collaborators.Executor.Execute returns the result
// directly rather than through a separate completion callback.
type HTTPExecutor struct {
	client    *http.Client
	endpoints map[string]string // capability name -> agent base URL
}

// NewHTTPExecutor builds an HTTPExecutor that routes each task to the
// base URL registered for the first capability passed to Execute.
func NewHTTPExecutor(endpoints map[string]string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPExecutor{
		client:    &http.Client{Timeout: timeout},
		endpoints: endpoints,
	}
}

type executeRequest struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Type   string `json:"type"`
}

type executeResponse struct {
	Output  string `json:"output"`
	Success bool   `json:"success"`
}

func (e *HTTPExecutor) Execute(ctx context.Context, task *types.Task, capabilities []types.Capability) (collaborators.ExecutionResult, error) {
	if len(capabilities) == 0 {
		return collaborators.ExecutionResult{}, fmt.Errorf("task %s: no capabilities to route on", task.ID)
	}

	base, ok := e.endpoints[capabilities[0].Name]
	if !ok {
		return collaborators.ExecutionResult{}, fmt.Errorf("task %s: no endpoint registered for capability %q", task.ID, capabilities[0].Name)
	}

	data, err := json.Marshal(executeRequest{TaskID: task.ID, Title: task.Title, Type: task.Type})
	if err != nil {
		return collaborators.ExecutionResult{}, fmt.Errorf("marshal execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/execute", bytes.NewReader(data))
	if err != nil {
		return collaborators.ExecutionResult{}, fmt.Errorf("build execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return collaborators.ExecutionResult{}, fmt.Errorf("contact agent for task %s: %w", task.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return collaborators.ExecutionResult{}, fmt.Errorf("agent returned status %d for task %s", resp.StatusCode, task.ID)
	}

	var out executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return collaborators.ExecutionResult{}, fmt.Errorf("decode execute response: %w", err)
	}

	logging.Component(ctx, "http_executor").Info().Str("task_id", task.ID).Str("endpoint", base).Bool("success", out.Success).Msg("task executed remotely")
	return collaborators.ExecutionResult{Output: out.Output, Success: out.Success}, nil
}
