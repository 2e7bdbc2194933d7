// Package harness runs scripted multi-user sessions against real cores.
//
// A scenario names a set of actors. Each actor gets its own core.Core,
// all of them sharing one SQLite store and its change feed, the way
// several browsers share one backend. Steps issue intents as a user would;
// after each step the harness waits until every actor's view agrees with
// the store, so a passing scenario shows that live updates converge.
//
// # Scenario Format
//
//	name: shared_room
//	description: "Bob edits Ann's list and Ann sees it live"
//	actors: [u1, u2]
//	steps:
//	  - actor: u1
//	    do: connect
//	    args: { user: u2 }
//	  - actor: u2
//	    do: select_room
//	    args: { room: u1 }
//	  - actor: u2
//	    do: add_task
//	    args: { task: "buy milk", as: milk }
//	  - actor: u2
//	    do: add_task
//	    args: { task: "   " }
//	    expect_error: VALIDATION
//	assertions:
//	  - type: visible_tasks
//	    actor: u1
//	    tasks: ["buy milk"]
//	  - type: todo_state
//	    todo: milk
//	    completed: false
//
// Users default to ann (u1), bob (u2) and carol (u3). Labels bound with
// "as" let later steps and assertions refer to a created todo.
//
// # Intents
//
// add_task, toggle, edit, delete, connect, disconnect, select_room,
// leave_room and dismiss_error map one to one onto core.Core methods.
//
// # Assertion Types
//
//   - visible_tasks: the actor's visible task texts, in view order
//   - todo_state: stored fields of a labelled todo, soft-deleted or not
//   - room: the actor's active room and, optionally, its owner's email
//   - connections, connected_in: the actor's user lists, by id
//   - last_error: the actor's last error code, empty for none
//
// # Determinism
//
// Steps run strictly one after another and the store stamps rows from a
// fixed wall clock, so todo ids, list order and traces repeat exactly.
// RunWithGolden snapshots the trace and the converged views with goldie.
package harness
