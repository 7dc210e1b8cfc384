package async

import (
	"context"
	"encoding/json"
	"sync"
)

// createTestJob is a shared helper for tests that need a queued job with a small payload
func createTestJob(handlerName, source string) (*Job, error) {
	payloadJSON, err := json.Marshal(map[string]string{"record_key": source})
	if err != nil {
		return nil, err
	}
	return NewJobWithPayload(handlerName, source, payloadJSON)
}

// funcHandler adapts a function to JobHandler and counts executions
type funcHandler struct {
	name  string
	fn    func(ctx context.Context, job *Job) error
	mu    sync.Mutex
	calls int
}

func (h *funcHandler) Name() string { return h.name }

func (h *funcHandler) Execute(ctx context.Context, job *Job) error {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	if h.fn == nil {
		return nil
	}
	return h.fn(ctx, job)
}

func (h *funcHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}
