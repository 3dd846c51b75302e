package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/eWorkbench/eWorkbench-sub000/internal/models"
	"github.com/eWorkbench/eWorkbench-sub000/internal/permissions"
	apperrors "github.com/eWorkbench/eWorkbench-sub000/pkg/errors"
	"github.com/eWorkbench/eWorkbench-sub000/pkg/validator"
)

var (
	// ErrRoleNotFound indicates the requested role does not exist.
	ErrRoleNotFound = apperrors.New("ROLE_NOT_FOUND", "Role not found", 404)
	// ErrAssignmentNotFound indicates the requested role assignment does not exist.
	ErrAssignmentNotFound = apperrors.New("ASSIGNMENT_NOT_FOUND", "Role assignment not found", 404)
	// ErrSystemRoleImmutable prevents destructive operations on system roles.
	ErrSystemRoleImmutable = apperrors.New("ROLE_IMMUTABLE", "System roles cannot be modified", 400)
	// ErrNoDefaultRole signals missing seed data.
	ErrNoDefaultRole = apperrors.New("NO_DEFAULT_ROLE", "No default role is configured", 500)
)

// RoleService provides role management and the assignment guards.
type RoleService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewRoleService constructs a RoleService using the provided database handle.
func NewRoleService(db *gorm.DB, audit *AuditService) (*RoleService, error) {
	if db == nil {
		return nil, errors.New("role service: db is required")
	}
	return &RoleService{db: db, audit: audit}, nil
}

// CreateRoleInput describes the payload accepted by CreateRole.
type CreateRoleInput struct {
	Name                   string `json:"name" validate:"required"`
	Description            string `json:"description"`
	DefaultOnProjectCreate bool   `json:"default_role_on_project_create"`
	DefaultOnUserAssign    bool   `json:"default_role_on_project_user_assign"`
}

// PermissionGrant names one (entity type, action) pair granted by a role.
type PermissionGrant struct {
	EntityType string `json:"entity_type" validate:"required"`
	Action     string `json:"action" validate:"required"`
}

// CreateRole registers a new role.
func (s *RoleService) CreateRole(ctx context.Context, input CreateRoleInput) (*models.Role, error) {
	ctx = ensureContext(ctx)

	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	role := &models.Role{
		Name:                   strings.TrimSpace(input.Name),
		Description:            strings.TrimSpace(input.Description),
		DefaultOnProjectCreate: input.DefaultOnProjectCreate,
		DefaultOnUserAssign:    input.DefaultOnUserAssign,
	}

	if err := s.db.WithContext(ctx).Create(role).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewBadRequest("role name already exists")
		}
		return nil, fmt.Errorf("role service: create role: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "role.create",
		Resource: role.ID,
		Result:   "success",
		Metadata: map[string]any{"name": role.Name},
	})

	return role, nil
}

// SetRolePermissions replaces the role's grants with the provided set.
func (s *RoleService) SetRolePermissions(ctx context.Context, roleID string, grants []PermissionGrant) error {
	ctx = ensureContext(ctx)

	for _, grant := range grants {
		if err := validator.ValidateStruct(grant); err != nil {
			return apperrors.NewBadRequest(err.Error())
		}
		if _, ok := permissions.EntityType(grant.EntityType); !ok {
			return apperrors.NewBadRequest(fmt.Sprintf("unknown entity type %q", grant.EntityType))
		}
		if !permissions.Action(grant.Action).Valid() {
			return apperrors.NewBadRequest(fmt.Sprintf("unknown action %q", grant.Action))
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var role models.Role
		if err := tx.First(&role, "id = ?", roleID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoleNotFound
			}
			return fmt.Errorf("role service: load role: %w", err)
		}

		if role.IsSystem {
			return ErrSystemRoleImmutable
		}

		if err := tx.Where("role_id = ?", roleID).Delete(&models.RolePermission{}).Error; err != nil {
			return fmt.Errorf("role service: clear grants: %w", err)
		}

		if len(grants) == 0 {
			return nil
		}

		rows := make([]models.RolePermission, 0, len(grants))
		for _, grant := range grants {
			rows = append(rows, models.RolePermission{
				RoleID:     roleID,
				EntityType: grant.EntityType,
				Action:     grant.Action,
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("role service: insert grants: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "role.set_permissions",
		Resource: roleID,
		Result:   "success",
		Metadata: map[string]any{"grants": len(grants)},
	})
	return nil
}

// ListRoles returns all roles ordered by creation date.
func (s *RoleService) ListRoles(ctx context.Context) ([]models.Role, error) {
	ctx = ensureContext(ctx)

	var roles []models.Role
	if err := s.db.WithContext(ctx).Preload("Permissions").Order("created_at ASC").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("role service: list roles: %w", err)
	}
	return roles, nil
}

// DefaultRoleOnProjectCreate returns the role auto-assigned to project creators.
func (s *RoleService) DefaultRoleOnProjectCreate(ctx context.Context) (*models.Role, error) {
	return s.defaultRole(ctx, "default_on_project_create")
}

// DefaultRoleOnUserAssign returns the role used when a user joins a project
// without an explicit role.
func (s *RoleService) DefaultRoleOnUserAssign(ctx context.Context) (*models.Role, error) {
	return s.defaultRole(ctx, "default_on_user_assign")
}

func (s *RoleService) defaultRole(ctx context.Context, column string) (*models.Role, error) {
	ctx = ensureContext(ctx)

	var role models.Role
	err := s.db.WithContext(ctx).
		Where(fmt.Sprintf("%s = ?", column), true).
		Order("created_at ASC").
		First(&role).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoDefaultRole
		}
		return nil, fmt.Errorf("role service: load default role: %w", err)
	}
	return &role, nil
}

// IsDeletableAssignment reports whether removing the assignment would leave
// a live project without any holder of the default-on-create role. The
// count is taken fresh on every call; it is never cached across requests.
func (s *RoleService) IsDeletableAssignment(ctx context.Context, assignmentID string) (bool, error) {
	ctx = ensureContext(ctx)

	var assignment models.RoleAssignment
	err := s.db.WithContext(ctx).
		Preload("Role").
		Preload("Project").
		First(&assignment, "id = ?", assignmentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrAssignmentNotFound
		}
		return false, fmt.Errorf("role service: load assignment: %w", err)
	}

	if assignment.Role == nil || !assignment.Role.DefaultOnProjectCreate {
		return true, nil
	}
	if assignment.Project != nil && !assignment.Project.IsLive() {
		return true, nil
	}

	var otherManagers int64
	err = s.db.WithContext(ctx).Model(&models.RoleAssignment{}).
		Joins("JOIN roles ON roles.id = role_assignments.role_id").
		Where("role_assignments.project_id = ?", assignment.ProjectID).
		Where("role_assignments.id <> ?", assignment.ID).
		Where("roles.default_on_project_create = ?", true).
		Count(&otherManagers).Error
	if err != nil {
		return false, fmt.Errorf("role service: count managers: %w", err)
	}

	return otherManagers > 0, nil
}

// RemoveAssignment deletes a role assignment, enforcing the last-manager guard.
func (s *RoleService) RemoveAssignment(ctx context.Context, assignmentID string) error {
	ctx = ensureContext(ctx)

	deletable, err := s.IsDeletableAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	if !deletable {
		return apperrors.NewValidation("cannot remove the last project manager of a live project")
	}

	if err := s.db.WithContext(ctx).Delete(&models.RoleAssignment{}, "id = ?", assignmentID).Error; err != nil {
		return fmt.Errorf("role service: delete assignment: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "role.remove_assignment",
		Resource: assignmentID,
		Result:   "success",
	})
	return nil
}
