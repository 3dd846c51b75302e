// Package permissions implements the hierarchical permission resolution
// engine: role-derived project grants with tree inheritance, per-object
// tri-state privilege overrides, additive extension predicates, and the
// resolver composing them into the derived permission sets.
package permissions

// Action names a permission-checked operation on an entity type.
type Action string

const (
	ActionView    Action = "view"
	ActionEdit    Action = "edit"
	ActionTrash   Action = "trash"
	ActionDelete  Action = "delete"
	ActionRestore Action = "restore"

	// ActionChangeProject controls whether the project association of an
	// entity may be altered. It has no ModelPrivilege field; only roles and
	// global grants can carry it.
	ActionChangeProject Action = "change_project"
)

// StandardActions lists the five actions with ModelPrivilege override
// fields, in resolution order.
func StandardActions() []Action {
	return []Action{ActionView, ActionEdit, ActionTrash, ActionDelete, ActionRestore}
}

// AllActions lists every action a role permission may grant.
func AllActions() []Action {
	return append(StandardActions(), ActionChangeProject)
}

// Valid reports whether the action is part of the fixed set.
func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionEdit, ActionTrash, ActionDelete, ActionRestore, ActionChangeProject:
		return true
	}
	return false
}
