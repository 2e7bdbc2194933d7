package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/roomtodo/internal/model"
)

// Scenario is a scripted multi-user session. Every actor runs its own core
// against one shared store; steps run in order and the harness waits for
// all actors to converge after each one.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Users seeds the user directory. Defaults to ann (u1), bob (u2) and
	// carol (u3).
	Users []model.User `yaml:"users,omitempty"`

	// Actors lists the user ids that get a running core, in snapshot order.
	Actors []string `yaml:"actors"`

	// Steps are the intents to issue, in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the converged views and the store.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one intent issued by one actor.
type Step struct {
	// Actor is the user id issuing the intent.
	Actor string `yaml:"actor"`

	// Do names the intent; see the Op constants.
	Do string `yaml:"do"`

	// Args carries the intent's arguments.
	Args StepArgs `yaml:"args,omitempty"`

	// ExpectError is the core error code the intent must fail with, or
	// empty if it must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// StepArgs are the arguments of a step. Which fields apply depends on Do.
type StepArgs struct {
	Task      string   `yaml:"task,omitempty"`
	Assign    []string `yaml:"assign,omitempty"`
	As        string   `yaml:"as,omitempty"`
	Todo      string   `yaml:"todo,omitempty"`
	Completed bool     `yaml:"completed,omitempty"`
	User      string   `yaml:"user,omitempty"`
	Room      string   `yaml:"room,omitempty"`
}

// Intents a step can issue.
const (
	OpAddTask      = "add_task"
	OpToggle       = "toggle"
	OpEdit         = "edit"
	OpDelete       = "delete"
	OpConnect      = "connect"
	OpDisconnect   = "disconnect"
	OpSelectRoom   = "select_room"
	OpLeaveRoom    = "leave_room"
	OpDismissError = "dismiss_error"
)

// Assertion checks the converged state after the last step.
type Assertion struct {
	// Type selects the check; see the Assert constants.
	Type string `yaml:"type"`

	// Actor whose view is checked.
	Actor string `yaml:"actor,omitempty"`

	// Tasks is the expected visible task list, in view order
	// (visible_tasks).
	Tasks []string `yaml:"tasks,omitempty"`

	// Todo is a label bound by an add_task step (todo_state).
	Todo string `yaml:"todo,omitempty"`

	// Task, Completed and Deleted are the expected stored fields
	// (todo_state). Nil pointers are not checked.
	Task      string `yaml:"task,omitempty"`
	Completed *bool  `yaml:"completed,omitempty"`
	Deleted   *bool  `yaml:"deleted,omitempty"`

	// Room and OwnerEmail are the expected active room (room).
	Room       string `yaml:"room,omitempty"`
	OwnerEmail string `yaml:"owner_email,omitempty"`

	// Users is the expected user id list (connections, connected_in).
	Users []string `yaml:"users,omitempty"`

	// Code is the expected last error code, empty for none (last_error).
	Code string `yaml:"code,omitempty"`
}

// Assertion types.
const (
	AssertVisibleTasks = "visible_tasks"
	AssertTodoState    = "todo_state"
	AssertRoom         = "room"
	AssertConnections  = "connections"
	AssertConnectedIn  = "connected_in"
	AssertLastError    = "last_error"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// users returns the directory to seed.
func (s *Scenario) users() []model.User {
	if len(s.Users) > 0 {
		return s.Users
	}
	return defaultUsers
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Actors) == 0 {
		return fmt.Errorf("actors list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	known := make(map[string]bool)
	for i, u := range s.users() {
		if u.ID == "" || u.Email == "" {
			return fmt.Errorf("users[%d]: id and email are required", i)
		}
		known[u.ID] = true
	}
	for i, a := range s.Actors {
		if !known[a] {
			return fmt.Errorf("actors[%d]: unknown user %q", i, a)
		}
		if slices.Index(s.Actors, a) != i {
			return fmt.Errorf("actors[%d]: duplicate actor %q", i, a)
		}
	}

	labels := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, s.Actors, labels); err != nil {
			return err
		}
		if step.Do == OpAddTask && step.Args.As != "" && step.ExpectError == "" {
			labels[step.Args.As] = true
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, s.Actors, labels); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step, actors []string, labels map[string]bool) error {
	if !slices.Contains(actors, step.Actor) {
		return fmt.Errorf("steps[%d]: unknown actor %q", index, step.Actor)
	}

	switch step.Do {
	case OpAddTask, OpLeaveRoom, OpDismissError:
	case OpToggle, OpEdit, OpDelete:
		if !labels[step.Args.Todo] {
			return fmt.Errorf("steps[%d]: todo %q is not bound by an earlier add_task", index, step.Args.Todo)
		}
	case OpConnect, OpDisconnect:
		if step.Args.User == "" {
			return fmt.Errorf("steps[%d]: user is required for %s", index, step.Do)
		}
	case OpSelectRoom:
		if step.Args.Room == "" {
			return fmt.Errorf("steps[%d]: room is required for select_room", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: do is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown intent %q", index, step.Do)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, actors []string, labels map[string]bool) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTodoState:
		if !labels[a.Todo] {
			return fmt.Errorf("assertions[%d]: todo %q is not bound by an add_task step", index, a.Todo)
		}
		return nil
	case AssertVisibleTasks, AssertConnections, AssertConnectedIn, AssertLastError:
	case AssertRoom:
		if a.Room == "" {
			return fmt.Errorf("assertions[%d]: room is required for room", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if !slices.Contains(actors, a.Actor) {
		return fmt.Errorf("assertions[%d]: unknown actor %q", index, a.Actor)
	}
	return nil
}
