// Package model defines the records shared by every layer of roomtodo.
//
// Three collections cross the remote store boundary:
//   - users: the read-only user directory (User)
//   - todos: list items, one room per owner_id (Todo)
//   - connections: one grant record per owner (Connector)
//
// Records travel as Row values (JSON objects) so that the store, the HTTP
// transport and the change feed can stay table-agnostic. Typed views are
// recovered with DecodeRow.
//
// # Invariants
//
//   - Todo.ID and Todo.CreatedAt are assigned by the store and never patched.
//   - A todo belongs to the room named by its OwnerID.
//   - Connector.Grantees is a set; see Connector.HasGrantee.
package model
