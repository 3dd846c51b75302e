package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/eWorkbench/eWorkbench-sub000/internal/models"
)

// HolderSet is the answer to "on which projects does the user hold this
// permission". All set means the user carries the system-wide grant and the
// project filter is moot.
type HolderSet struct {
	All        bool
	ProjectIDs []string
}

// RoleAssignmentStore manages (user, project, role) bindings and answers
// role-derived permission queries.
type RoleAssignmentStore struct {
	db *gorm.DB
}

// NewRoleAssignmentStore constructs the store.
func NewRoleAssignmentStore(db *gorm.DB) (*RoleAssignmentStore, error) {
	if db == nil {
		return nil, errors.New("role assignment store: db is required")
	}
	return &RoleAssignmentStore{db: db}, nil
}

// Grant binds the user to the role on the project. A user holds at most one
// role per project: granting over an existing binding updates it in place
// rather than inserting a duplicate.
func (s *RoleAssignmentStore) Grant(ctx context.Context, userID, projectID, roleID string) (*models.RoleAssignment, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	projectID = strings.TrimSpace(projectID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || projectID == "" || roleID == "" {
		return nil, errors.New("role assignment store: user, project and role ids are required")
	}

	var assignment models.RoleAssignment
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND project_id = ?", userID, projectID).
		First(&assignment).Error
	switch {
	case err == nil:
		if assignment.RoleID == roleID {
			return &assignment, nil
		}
		if err := s.db.WithContext(ctx).Model(&assignment).Update("role_id", roleID).Error; err != nil {
			return nil, fmt.Errorf("role assignment store: update assignment: %w", err)
		}
		assignment.RoleID = roleID
		return &assignment, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		assignment = models.RoleAssignment{UserID: userID, ProjectID: projectID, RoleID: roleID}
		if err := s.db.WithContext(ctx).Create(&assignment).Error; err != nil {
			return nil, fmt.Errorf("role assignment store: create assignment: %w", err)
		}
		return &assignment, nil
	default:
		return nil, fmt.Errorf("role assignment store: load assignment: %w", err)
	}
}

// PermissionHolders returns either the ALL sentinel (the user holds the
// system-wide grant for this entity type and action) or the explicit set of
// project ids where an assigned role grants the action. Results are memoised
// in the scope when one is supplied.
func (s *RoleAssignmentStore) PermissionHolders(ctx context.Context, principal Principal, entityType string, action Action, scope *Scope) (HolderSet, error) {
	ctx = ensureContext(ctx)

	key := holderSetKey{userID: principal.UserID, entityType: entityType, action: action}
	if cached, ok := scope.holderSet(key); ok {
		return cached, nil
	}

	var globalCount int64
	if err := s.db.WithContext(ctx).Model(&models.GlobalPermission{}).
		Where("user_id = ? AND entity_type = ? AND action = ?", principal.UserID, entityType, string(action)).
		Count(&globalCount).Error; err != nil {
		return HolderSet{}, fmt.Errorf("role assignment store: global grant lookup: %w", err)
	}
	if globalCount > 0 {
		set := HolderSet{All: true}
		scope.storeHolderSet(key, set)
		return set, nil
	}

	var projectIDs []string
	if err := s.db.WithContext(ctx).Model(&models.RoleAssignment{}).
		Joins("JOIN role_permissions ON role_permissions.role_id = role_assignments.role_id").
		Where("role_assignments.user_id = ?", principal.UserID).
		Where("role_permissions.entity_type = ? AND role_permissions.action = ?", entityType, string(action)).
		Distinct().
		Pluck("role_assignments.project_id", &projectIDs).Error; err != nil {
		return HolderSet{}, fmt.Errorf("role assignment store: holder lookup: %w", err)
	}

	set := HolderSet{ProjectIDs: projectIDs}
	scope.storeHolderSet(key, set)
	return set, nil
}

// ModelPrivilegeStore answers per-object override queries.
type ModelPrivilegeStore struct {
	db *gorm.DB
}

// NewModelPrivilegeStore constructs the store.
func NewModelPrivilegeStore(db *gorm.DB) (*ModelPrivilegeStore, error) {
	if db == nil {
		return nil, errors.New("model privilege store: db is required")
	}
	return &ModelPrivilegeStore{db: db}, nil
}

// Overrides returns the user's privilege records for the entity type, keyed
// by object id.
func (s *ModelPrivilegeStore) Overrides(ctx context.Context, entityType, userID string) (map[string]models.ModelPrivilege, error) {
	ctx = ensureContext(ctx)

	var rows []models.ModelPrivilege
	if err := s.db.WithContext(ctx).
		Where("entity_type = ? AND user_id = ?", entityType, userID).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("model privilege store: overrides: %w", err)
	}

	out := make(map[string]models.ModelPrivilege, len(rows))
	for _, row := range rows {
		out[row.EntityID] = row
	}
	return out, nil
}

// AllowListed returns object ids where the user's override explicitly allows
// the action, either via the action field or via full_access.
func (s *ModelPrivilegeStore) AllowListed(ctx context.Context, entityType string, action Action, userID string) ([]string, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.ModelPrivilege{}).
		Where("entity_type = ? AND user_id = ?", entityType, userID)

	column, ok := privilegeColumn(action)
	if ok {
		query = query.Where(fmt.Sprintf("full_access_privilege = ? OR %s = ?", column), models.PrivilegeAllow, models.PrivilegeAllow)
	} else {
		// change_project has no per-action field; only full_access covers it.
		query = query.Where("full_access_privilege = ?", models.PrivilegeAllow)
	}

	var ids []string
	if err := query.Pluck("entity_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("model privilege store: allow listed: %w", err)
	}
	return ids, nil
}

// DenyListed returns object ids where the user's override for the action is
// an explicit DENY. These ids are subtracted at the very end of resolution;
// a DENY overrides every other grant, including full_access and
// project-derived permissions.
func (s *ModelPrivilegeStore) DenyListed(ctx context.Context, entityType string, action Action, userID string) ([]string, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.ModelPrivilege{}).
		Where("entity_type = ? AND user_id = ?", entityType, userID)

	column, ok := privilegeColumn(action)
	if ok {
		query = query.Where(fmt.Sprintf("full_access_privilege = ? OR %s = ?", column), models.PrivilegeDeny, models.PrivilegeDeny)
	} else {
		query = query.Where("full_access_privilege = ?", models.PrivilegeDeny)
	}

	var ids []string
	if err := query.Pluck("entity_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("model privilege store: deny listed: %w", err)
	}
	return ids, nil
}

// privilegeColumn maps an action to its ModelPrivilege column. The second
// return is false for actions without a per-action field.
func privilegeColumn(action Action) (string, bool) {
	switch action {
	case ActionView:
		return "view_privilege", true
	case ActionEdit:
		return "edit_privilege", true
	case ActionTrash:
		return "trash_privilege", true
	case ActionDelete:
		return "delete_privilege", true
	case ActionRestore:
		return "restore_privilege", true
	default:
		return "", false
	}
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
