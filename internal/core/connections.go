package core

import (
	"context"
	"errors"

	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/query"
	"github.com/roach88/roomtodo/internal/remote"
)

// Resolver reads and edits the connection graph.
//
// Every method is a complete remote operation: it either succeeds and
// returns the new state, or fails with a core *Error and changes nothing
// locally. Callers apply results to their caches.
type Resolver struct {
	store remote.RemoteStore
}

// NewResolver creates a Resolver over store.
func NewResolver(store remote.RemoteStore) *Resolver {
	return &Resolver{store: store}
}

// LoadConnections returns the users selfID has granted access to, in
// grantee order. No connection record means no connections.
func (r *Resolver) LoadConnections(ctx context.Context, selfID string) ([]model.User, error) {
	const op = "load connections"
	c, err := r.connector(ctx, selfID)
	if err != nil {
		return nil, NewStoreError(op, err)
	}
	if c == nil {
		return []model.User{}, nil
	}
	users, err := r.resolveUsers(ctx, c.Grantees)
	if err != nil {
		return nil, NewStoreError(op, err)
	}
	return users, nil
}

// LoadConnectedIn returns the users who granted selfID access, ordered by
// owner id.
func (r *Resolver) LoadConnectedIn(ctx context.Context, selfID string) ([]model.User, error) {
	const op = "load connected-in"
	rows, err := r.store.FetchRows(ctx, model.TableConnections,
		query.New().Contains("grantees", selfID).OrderBy("owner", false))
	if err != nil {
		return nil, NewStoreError(op, err)
	}
	conns, err := model.DecodeRows[model.Connector](rows)
	if err != nil {
		return nil, NewStoreError(op, err)
	}

	owners := make([]string, 0, len(conns))
	for _, c := range conns {
		owners = append(owners, c.Owner)
	}
	users, err := r.resolveUsers(ctx, owners)
	if err != nil {
		return nil, NewStoreError(op, err)
	}
	return users, nil
}

// Grant adds granteeID to selfID's grantee set, creating the record if
// needed. Granting an existing grantee writes nothing unless the stored
// set holds duplicates. Returns the resulting grantee set.
func (r *Resolver) Grant(ctx context.Context, selfID, granteeID string) ([]string, error) {
	const op = "add connection"
	if err := validateEdge(op, selfID, granteeID); err != nil {
		return nil, err
	}

	c, err := r.connector(ctx, selfID)
	if err != nil {
		return nil, NewStoreError(op, err)
	}

	if c == nil {
		row, err := model.EncodeRow(model.Connector{Owner: selfID, Grantees: []string{granteeID}})
		if err != nil {
			return nil, NewStoreError(op, err)
		}
		stored, err := r.store.InsertRow(ctx, model.TableConnections, row)
		if err != nil {
			return nil, NewStoreError(op, err)
		}
		created, err := model.DecodeRow[model.Connector](stored)
		if err != nil {
			return nil, NewStoreError(op, err)
		}
		return created.Grantees, nil
	}

	set := c.WithGrantee(granteeID)
	if c.HasGrantee(granteeID) && len(set) == len(c.Grantees) {
		return set, nil
	}
	return r.setGrantees(ctx, op, c.ID, set)
}

// Revoke removes granteeID from selfID's grantee set. A missing record or
// grantee is a no-op. Returns the resulting grantee set.
func (r *Resolver) Revoke(ctx context.Context, selfID, granteeID string) ([]string, error) {
	const op = "remove connection"
	if err := validateEdge(op, selfID, granteeID); err != nil {
		return nil, err
	}

	c, err := r.connector(ctx, selfID)
	if err != nil {
		return nil, NewStoreError(op, err)
	}
	if c == nil {
		return []string{}, nil
	}
	if !c.HasGrantee(granteeID) {
		return c.WithoutGrantee(granteeID), nil
	}
	return r.setGrantees(ctx, op, c.ID, c.WithoutGrantee(granteeID))
}

// RoomOwnerEmail looks up the email of a room owner in the directory.
// Returns "" if the owner is not in the directory.
func (r *Resolver) RoomOwnerEmail(ctx context.Context, ownerID string) (string, error) {
	users, err := r.resolveUsers(ctx, []string{ownerID})
	if err != nil {
		return "", NewStoreError("load room owner", err)
	}
	if len(users) == 0 {
		return "", nil
	}
	return users[0].Email, nil
}

func (r *Resolver) setGrantees(ctx context.Context, op, id string, grantees []string) ([]string, error) {
	stored, err := r.store.UpdateRow(ctx, model.TableConnections, id, model.Patch{"grantees": grantees})
	if err != nil {
		return nil, NewStoreError(op, err)
	}
	updated, err := model.DecodeRow[model.Connector](stored)
	if err != nil {
		return nil, NewStoreError(op, err)
	}
	return updated.Grantees, nil
}

// connector fetches the record owned by owner, or nil if there is none.
func (r *Resolver) connector(ctx context.Context, owner string) (*model.Connector, error) {
	rows, err := r.store.FetchRows(ctx, model.TableConnections, query.New().Eq("owner", owner))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	c, err := model.DecodeRow[model.Connector](rows[0])
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// resolveUsers maps ids to directory users, keeping the order of ids.
// Ids missing from the directory are skipped.
func (r *Resolver) resolveUsers(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return []model.User{}, nil
	}
	rows, err := r.store.FetchRows(ctx, model.TableUsers, query.New().In("id", ids...))
	if err != nil {
		return nil, err
	}
	users, err := model.DecodeRows[model.User](rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	out := make([]model.User, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		u, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, u)
	}
	return out, nil
}

var errSelfGrant = errors.New("cannot connect to yourself")

func validateEdge(op, selfID, granteeID string) error {
	switch {
	case selfID == "":
		return NewAuthError(nil)
	case granteeID == "":
		return NewValidationError(op, "user id is required")
	case granteeID == selfID:
		return &Error{Code: ErrCodeValidation, Op: op, Message: errSelfGrant.Error(), Err: errSelfGrant}
	}
	return nil
}
