package event

// Tokens counts prompt and completion tokens for a model call.
type Tokens struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Input is a message handed to the agent (user turn, system prompt, etc).
type Input struct {
	Role     string         `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (*Input) Kind() Type { return TypeInput }

func (p *Input) Validate() error {
	if p.Role == "" {
		return &ValidationError{Type: TypeInput, Field: "role", Reason: "is required"}
	}
	if p.Content == "" {
		return &ValidationError{Type: TypeInput, Field: "content", Reason: "is required"}
	}
	return nil
}

// Output is content the agent produced for its caller.
type Output struct {
	Role     string         `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (*Output) Kind() Type { return TypeOutput }

func (p *Output) Validate() error {
	if p.Role == "" {
		return &ValidationError{Type: TypeOutput, Field: "role", Reason: "is required"}
	}
	if p.Content == "" {
		return &ValidationError{Type: TypeOutput, Field: "content", Reason: "is required"}
	}
	return nil
}

// LLMCall records one round trip to a model provider. Prompt and Response are
// left loosely typed: providers disagree on message shapes and the recorder
// must not normalize them.
type LLMCall struct {
	Model    string         `json:"model"`
	Prompt   any            `json:"prompt"`
	Response any            `json:"response"`
	Tokens   Tokens         `json:"tokens"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (*LLMCall) Kind() Type { return TypeLLMCall }

func (p *LLMCall) Validate() error {
	if p.Model == "" {
		return &ValidationError{Type: TypeLLMCall, Field: "model", Reason: "is required"}
	}
	if p.Prompt == nil {
		return &ValidationError{Type: TypeLLMCall, Field: "prompt", Reason: "is required"}
	}
	if p.Response == nil {
		return &ValidationError{Type: TypeLLMCall, Field: "response", Reason: "is required"}
	}
	if p.Tokens.Input < 0 || p.Tokens.Output < 0 {
		return &ValidationError{Type: TypeLLMCall, Field: "tokens", Reason: "must be non-negative"}
	}
	return nil
}

// ToolCall records one tool or function invocation.
type ToolCall struct {
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args"`
	Result  any            `json:"result"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
}

func (*ToolCall) Kind() Type { return TypeToolCall }

func (p *ToolCall) Validate() error {
	if p.Tool == "" {
		return &ValidationError{Type: TypeToolCall, Field: "tool", Reason: "is required"}
	}
	return nil
}

// StateChangeMode selects how a state_change payload combines with the state
// accumulated so far.
type StateChangeMode string

const (
	// ModeDelta overwrites only the keys present in Values.
	ModeDelta StateChangeMode = "delta"
	// ModeSnapshot replaces the entire state with Values.
	ModeSnapshot StateChangeMode = "snapshot"
)

// StateChange mutates the reconstructed agent state. Replaying every
// state_change payload in id order reproduces the state a consumer would have
// observed on the live agent; that is the producer's contract.
type StateChange struct {
	Mode   StateChangeMode `json:"mode"`
	Values map[string]any  `json:"values"`
}

func (*StateChange) Kind() Type { return TypeStateChange }

func (p *StateChange) Validate() error {
	switch p.Mode {
	case ModeDelta, ModeSnapshot:
	default:
		return &ValidationError{Type: TypeStateChange, Field: "mode", Reason: "must be delta or snapshot"}
	}
	if p.Values == nil {
		return &ValidationError{Type: TypeStateChange, Field: "values", Reason: "is required"}
	}
	return nil
}

// Apply merges the payload onto base and returns a fresh state map. Base is
// never mutated. Snapshot payloads replace base wholesale (idempotent); delta
// payloads overwrite the affected keys (associative under composition).
func (p *StateChange) Apply(base map[string]any) map[string]any {
	if p.Mode == ModeSnapshot {
		return CloneState(p.Values)
	}
	next := CloneState(base)
	for k, v := range p.Values {
		next[k] = cloneValue(v)
	}
	return next
}

// CloneState deep-copies a state map so callers can never alias internals.
func CloneState(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneState(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// ErrorInfo records a failure observed during the run.
type ErrorInfo struct {
	Message    string         `json:"error"`
	ErrorType  string         `json:"error_type,omitempty"`
	StackTrace string         `json:"stack_trace,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

func (*ErrorInfo) Kind() Type { return TypeError }

func (p *ErrorInfo) Validate() error {
	if p.Message == "" {
		return &ValidationError{Type: TypeError, Field: "error", Reason: "is required"}
	}
	return nil
}

// Log is a free-form diagnostic line emitted by the agent.
type Log struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"data,omitempty"`
}

func (*Log) Kind() Type { return TypeLog }

func (p *Log) Validate() error {
	if p.Level == "" {
		return &ValidationError{Type: TypeLog, Field: "level", Reason: "is required"}
	}
	if p.Message == "" {
		return &ValidationError{Type: TypeLog, Field: "message", Reason: "is required"}
	}
	return nil
}
