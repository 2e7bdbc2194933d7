package core

// RoomSelector resolves which room is being viewed. The zero value is
// unresolved with no explicit selection.
type RoomSelector struct {
	self     string
	explicit string
	resolved bool
}

// Resolve records the signed-in user. Until then Active is the explicit
// selection, or empty.
func (r *RoomSelector) Resolve(selfID string) {
	r.self = selfID
	r.resolved = true
	if r.explicit == selfID {
		r.explicit = ""
	}
}

// Select makes id the active room; an empty id selects the user's own
// room. Reports whether the active room changed.
func (r *RoomSelector) Select(id string) bool {
	before := r.Active()
	if id == r.self {
		id = ""
	}
	r.explicit = id
	return r.Active() != before
}

// Leave clears any explicit selection. Idempotent. Reports whether the
// active room changed.
func (r *RoomSelector) Leave() bool {
	return r.Select("")
}

// Active returns the active room id.
func (r *RoomSelector) Active() string {
	if r.explicit != "" {
		return r.explicit
	}
	return r.self
}

// IsSelf reports whether the user is viewing their own room.
func (r *RoomSelector) IsSelf() bool {
	return r.explicit == ""
}

// Resolved reports whether the signed-in user is known.
func (r *RoomSelector) Resolved() bool {
	return r.resolved
}
