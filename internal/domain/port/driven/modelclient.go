package driven

import "context"

// ModelRequest is one invocation of a planner or reviewer model.
type ModelRequest struct {
	Model           string // Model identifier; chosen per stage by the orchestrator.
	Instructions    string
	DiffPayload     string
	MaxOutputTokens int
}

// ModelResponse carries the raw model output. The orchestrator owns parsing:
// responses are not assumed to be well-formed JSON.
type ModelResponse struct {
	RawText string
}

// ModelClient defines the driven port for AI model invocation.
type ModelClient interface {
	Complete(ctx context.Context, req ModelRequest) (*ModelResponse, error)
}
