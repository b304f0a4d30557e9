package backend

// ParentContext identifies who asked for an execution. Executors use it to
// label runs; it carries no behaviour.
type ParentContext struct {
	SessionID string
	TaskID    string
	RunID     string
}

// Constraints restricts what an execution may do.
type Constraints struct {
	ReadOnly bool // the run must not modify the workspace
}

// Request is one call to the execution collaborator.
type Request struct {
	ExecutorType  string
	Prompt        string
	ParentContext ParentContext
	Constraints   *Constraints // optional
	WorkDir       string       // empty means the executor's default
}

// Result is the text produced by a successful execution.
type Result struct {
	Text string
}

// Config defines how to build an executor for one executor type.
type Config struct {
	Type         string   // "claude" or "command"
	Command      string   // binary to run; defaults per type
	Args         []string // extra arguments placed before the prompt arguments
	WorkDir      string
	Model        string
	SystemPrompt string
}
