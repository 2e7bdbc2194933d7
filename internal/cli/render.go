package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/roomtodo/internal/core"
	"github.com/roach88/roomtodo/internal/model"
)

// RoomListing is the JSON form of a room.
type RoomListing struct {
	Room      string          `json:"room"`
	Owner     string          `json:"owner,omitempty"`
	Self      bool            `json:"self"`
	Todos     []model.Todo    `json:"todos"`
	LastError *core.ErrorInfo `json:"last_error,omitempty"`
}

func listing(v core.View) RoomListing {
	l := RoomListing{
		Room:      v.Room,
		Self:      v.IsSelf(),
		Todos:     v.Todos,
		LastError: v.LastError,
	}
	if v.RoomOwnerEmail != nil {
		l.Owner = *v.RoomOwnerEmail
	}
	if l.Self {
		l.Owner = v.Self.Email
	}
	return l
}

func writeListing(w io.Writer, l RoomListing) {
	switch {
	case l.Self:
		fmt.Fprintf(w, "Your room (%s)\n", l.Room)
	case l.Owner != "":
		fmt.Fprintf(w, "Room of %s (%s)\n", l.Owner, l.Room)
	default:
		fmt.Fprintf(w, "Room %s\n", l.Room)
	}
	if len(l.Todos) == 0 {
		fmt.Fprintln(w, "  no todos")
	}
	for _, t := range l.Todos {
		writeTodo(w, t)
	}
	if l.LastError != nil {
		fmt.Fprintf(w, "  ! %s: %s\n", l.LastError.Op, l.LastError.Message)
	}
}

func writeTodo(w io.Writer, t model.Todo) {
	box := "[ ]"
	if t.Completed {
		box = "[x]"
	}
	fmt.Fprintf(w, "  %s %4d  %s", box, t.ID, t.Task)
	if len(t.AssignedTo) > 0 {
		fmt.Fprintf(w, "  @%s", strings.Join(t.AssignedTo, " @"))
	}
	fmt.Fprintln(w)
}

func writeUsers(w io.Writer, title string, users []model.User) {
	fmt.Fprintf(w, "%s:\n", title)
	if len(users) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, u := range users {
		fmt.Fprintf(w, "  %-12s %s\n", u.ID, u.Email)
	}
}
