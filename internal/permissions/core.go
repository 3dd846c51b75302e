package permissions

import "strings"

// Principal identifies the acting user for a resolution call. It is always
// passed explicitly; the engine keeps no ambient current-user state.
type Principal struct {
	UserID    string
	Superuser bool
}

// Anonymous reports whether the principal is unauthenticated. Anonymous
// principals resolve to empty sets for every entity type and action.
func (p Principal) Anonymous() bool {
	return strings.TrimSpace(p.UserID) == ""
}

func init() {
	descriptors := []EntityDescriptor{
		{
			Key:              "project",
			Table:            "projects",
			SoftDeleteColumn: "deleted",
		},
		{
			Key:              "task",
			Table:            "tasks",
			SoftDeleteColumn: "deleted",
		},
		{
			Key:              "note",
			Table:            "notes",
			SoftDeleteColumn: "deleted",
		},
	}

	for _, desc := range descriptors {
		if err := RegisterEntityType(desc); err != nil {
			panic(err)
		}
	}
}
