package workflow

// Definition is a typed workflow definition with a handler function.
// T is the input type (must be JSON-serializable for Run.Input storage).
type Definition[T any] struct {
	// Name is the unique identifier for this workflow type.
	Name string

	// Version distinguishes incompatible revisions of the handler. Runs
	// resume on the version they started with. Zero means 1.
	Version int

	// Handler is the function that executes the workflow logic.
	Handler func(wf *Workflow, input T) error
}

// NewWorkflow creates a typed workflow definition.
func NewWorkflow[T any](name string, handler func(wf *Workflow, input T) error) *Definition[T] {
	return &Definition[T]{
		Name:    name,
		Handler: handler,
	}
}
