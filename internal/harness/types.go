package harness

// TraceEvent records one executed step and its outcome.
type TraceEvent struct {
	Seq   int    `json:"seq"`
	Actor string `json:"actor"`
	Do    string `json:"do"`

	// Todo is the id the step created or targeted.
	Todo int64 `json:"todo,omitempty"`

	// Grantees is the grantee set written by connect or disconnect.
	Grantees []string `json:"grantees,omitempty"`

	// Error is the core error code the step failed with.
	Error string `json:"error,omitempty"`
}

// TodoLine is the snapshot form of a todo. Timestamps are left out.
type TodoLine struct {
	ID         int64    `json:"id"`
	Task       string   `json:"task"`
	Completed  bool     `json:"completed"`
	AssignedTo []string `json:"assigned_to,omitempty"`
	CreatedBy  string   `json:"created_by"`
}

// ActorView is the converged view of one actor.
type ActorView struct {
	Actor       string     `json:"actor"`
	Room        string     `json:"room"`
	OwnerEmail  string     `json:"owner_email,omitempty"`
	Todos       []TodoLine `json:"todos"`
	Connections []string   `json:"connections"`
	ConnectedIn []string   `json:"connected_in"`
	LastError   string     `json:"last_error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every step behaved as expected and
	// every assertion held.
	Pass bool `json:"pass"`

	// Trace contains the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Views contains the converged view of every actor, in actor order.
	Views []ActorView `json:"views"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Views:  []ActorView{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// View returns the view of actor.
func (r *Result) View(actor string) (ActorView, bool) {
	for _, v := range r.Views {
		if v.Actor == actor {
			return v, true
		}
	}
	return ActorView{}, false
}
