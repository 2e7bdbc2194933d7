package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTodo_Visible(t *testing.T) {
	todo := Todo{ID: 1, OwnerID: "u1"}
	assert.True(t, todo.Visible("u1"))
	assert.False(t, todo.Visible("u2"), "other room")

	todo.Deleted = true
	assert.False(t, todo.Visible("u1"), "soft-deleted")
}

func TestConnector_WithGrantee_Idempotent(t *testing.T) {
	c := Connector{Owner: "u1", Grantees: []string{"u2"}}

	once := c.WithGrantee("u3")
	assert.Equal(t, []string{"u2", "u3"}, once)

	c.Grantees = once
	twice := c.WithGrantee("u3")
	assert.Equal(t, []string{"u2", "u3"}, twice)
}

func TestConnector_WithGrantee_CollapsesExistingDuplicates(t *testing.T) {
	c := Connector{Grantees: []string{"u2", "u2", "u3"}}
	assert.Equal(t, []string{"u2", "u3"}, c.WithGrantee("u2"))
}

func TestConnector_WithGrantee_DoesNotAliasReceiver(t *testing.T) {
	grantees := make([]string, 1, 8)
	grantees[0] = "u2"
	c := Connector{Grantees: grantees}

	_ = c.WithGrantee("u3")
	assert.Equal(t, []string{"u2"}, c.Grantees)
}

func TestConnector_WithoutGrantee(t *testing.T) {
	c := Connector{Grantees: []string{"u2", "u3", "u2"}}
	assert.Equal(t, []string{"u3"}, c.WithoutGrantee("u2"))
	assert.Equal(t, []string{"u2", "u3"}, c.WithoutGrantee("absent"))
}

func TestTodoPatch_Patch(t *testing.T) {
	done := true
	task := "buy milk"
	p := TodoPatch{Task: &task, Completed: &done}

	require.False(t, p.IsEmpty())
	assert.Equal(t, Patch{"task": "buy milk", "completed": true}, p.Patch())
}

func TestTodoPatch_Empty(t *testing.T) {
	var p TodoPatch
	assert.True(t, p.IsEmpty())
	assert.Empty(t, p.Patch())
}
