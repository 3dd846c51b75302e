package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/eWorkbench/eWorkbench-sub000/internal/models"
	"github.com/eWorkbench/eWorkbench-sub000/internal/permissions"
	"github.com/eWorkbench/eWorkbench-sub000/internal/projecttree"
	apperrors "github.com/eWorkbench/eWorkbench-sub000/pkg/errors"
	"github.com/eWorkbench/eWorkbench-sub000/pkg/validator"
)

// ErrProjectNotFound indicates the requested project does not exist.
var ErrProjectNotFound = apperrors.New("PROJECT_NOT_FOUND", "Project not found", 404)

// ProjectService manages the project forest and its lifecycle invariants.
type ProjectService struct {
	db          *gorm.DB
	tree        *projecttree.Tree
	assignments *permissions.RoleAssignmentStore
	roles       *RoleService
	audit       *AuditService
}

// NewProjectService constructs a ProjectService.
func NewProjectService(db *gorm.DB, tree *projecttree.Tree, roles *RoleService, audit *AuditService) (*ProjectService, error) {
	if db == nil {
		return nil, errors.New("project service: db is required")
	}
	if tree == nil {
		return nil, errors.New("project service: project tree is required")
	}
	if roles == nil {
		return nil, errors.New("project service: role service is required")
	}

	assignments, err := permissions.NewRoleAssignmentStore(db)
	if err != nil {
		return nil, err
	}

	return &ProjectService{
		db:          db,
		tree:        tree,
		assignments: assignments,
		roles:       roles,
		audit:       audit,
	}, nil
}

// CreateProjectInput describes the payload accepted by Create.
type CreateProjectInput struct {
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description"`
	ParentID    *string `json:"parent_id"`
}

// Create inserts a project and grants its creator the default-on-create
// role, so every project starts with at least one manager. The project is
// linked to itself in the entity-project table; project visibility then
// derives from role assignments on the project or its ancestors through the
// same generic mechanism as every other entity type.
func (s *ProjectService) Create(ctx context.Context, creatorID string, input CreateProjectInput) (*models.Project, error) {
	ctx = ensureContext(ctx)

	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return nil, apperrors.ErrUnauthorized
	}
	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	if input.ParentID != nil {
		if err := s.ensureProjectExists(ctx, *input.ParentID); err != nil {
			return nil, err
		}
	}

	defaultRole, err := s.roles.DefaultRoleOnProjectCreate(ctx)
	if err != nil {
		return nil, err
	}

	project := &models.Project{
		Name:        strings.TrimSpace(input.Name),
		Description: strings.TrimSpace(input.Description),
		State:       models.ProjectStateInitialized,
		ParentID:    input.ParentID,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(project).Error; err != nil {
			return fmt.Errorf("project service: create project: %w", err)
		}

		link := models.EntityProject{
			EntityType: "project",
			EntityID:   project.ID,
			ProjectID:  project.ID,
		}
		if err := tx.Create(&link).Error; err != nil {
			return fmt.Errorf("project service: link project: %w", err)
		}

		assignment := models.RoleAssignment{
			UserID:    creatorID,
			ProjectID: project.ID,
			RoleID:    defaultRole.ID,
		}
		if err := tx.Create(&assignment).Error; err != nil {
			return fmt.Errorf("project service: assign creator role: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.tree.Rebuild(ctx); err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &creatorID,
		Action:   "project.create",
		Resource: project.ID,
		Result:   "success",
		Metadata: map[string]any{"name": project.Name},
	})

	return project, nil
}

// SetParent moves the project below a new parent (nil makes it a root).
// The cycle check runs before anything commits; on failure the parent stays
// unchanged.
func (s *ProjectService) SetParent(ctx context.Context, projectID string, newParentID *string) error {
	ctx = ensureContext(ctx)

	var project models.Project
	if err := s.db.WithContext(ctx).First(&project, "id = ?", projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProjectNotFound
		}
		return fmt.Errorf("project service: load project: %w", err)
	}

	if newParentID != nil {
		if err := s.ensureProjectExists(ctx, *newParentID); err != nil {
			return err
		}
		if err := s.tree.ValidateNoCycle(ctx, projectID, *newParentID); err != nil {
			return err
		}
	}

	if err := s.db.WithContext(ctx).Model(&project).Update("parent_id", newParentID).Error; err != nil {
		return fmt.Errorf("project service: update parent: %w", err)
	}

	// Descendants inherit through the nested-set encoding, so the rebuild
	// must land before the next resolution sees the move.
	if err := s.tree.Rebuild(ctx); err != nil {
		return err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "project.move",
		Resource: projectID,
		Result:   "success",
	})

	return nil
}

// AddMember grants the user a role on the project. An empty roleID falls
// back to the default-on-user-assign role.
func (s *ProjectService) AddMember(ctx context.Context, userID, projectID, roleID string) (*models.RoleAssignment, error) {
	ctx = ensureContext(ctx)

	if err := s.ensureProjectExists(ctx, projectID); err != nil {
		return nil, err
	}

	if strings.TrimSpace(roleID) == "" {
		role, err := s.roles.DefaultRoleOnUserAssign(ctx)
		if err != nil {
			return nil, err
		}
		roleID = role.ID
	}

	assignment, err := s.assignments.Grant(ctx, userID, projectID, roleID)
	if err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "project.add_member",
		Resource: projectID,
		Result:   "success",
		Metadata: map[string]any{"user_id": userID, "role_id": roleID},
	})

	return assignment, nil
}

// Trash soft-deletes the project.
func (s *ProjectService) Trash(ctx context.Context, projectID string) error {
	return s.setDeleted(ctx, projectID, true, "project.trash")
}

// Restore clears the soft-delete flag.
func (s *ProjectService) Restore(ctx context.Context, projectID string) error {
	return s.setDeleted(ctx, projectID, false, "project.restore")
}

func (s *ProjectService) setDeleted(ctx context.Context, projectID string, deleted bool, auditAction string) error {
	ctx = ensureContext(ctx)

	var project models.Project
	if err := s.db.WithContext(ctx).First(&project, "id = ?", projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProjectNotFound
		}
		return fmt.Errorf("project service: load project: %w", err)
	}

	if project.Deleted == deleted {
		return nil
	}

	if err := s.db.WithContext(ctx).Model(&project).Update("deleted", deleted).Error; err != nil {
		return fmt.Errorf("project service: update deleted flag: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   auditAction,
		Resource: projectID,
		Result:   "success",
	})
	return nil
}

// Delete removes the project permanently. Only soft-deleted projects without
// live children can go; the nested-set encoding is rebuilt afterwards since
// removing a node shifts its siblings.
func (s *ProjectService) Delete(ctx context.Context, projectID string) error {
	ctx = ensureContext(ctx)

	var project models.Project
	if err := s.db.WithContext(ctx).First(&project, "id = ?", projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProjectNotFound
		}
		return fmt.Errorf("project service: load project: %w", err)
	}

	if project.IsLive() {
		return apperrors.NewValidation("project must be trashed before it can be deleted")
	}

	var liveChildren int64
	if err := s.db.WithContext(ctx).Model(&models.Project{}).
		Where("parent_id = ? AND deleted = ?", projectID, false).
		Count(&liveChildren).Error; err != nil {
		return fmt.Errorf("project service: count children: %w", err)
	}
	if liveChildren > 0 {
		return apperrors.NewValidation("project still has live subprojects")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&models.RoleAssignment{}).Error; err != nil {
			return fmt.Errorf("delete assignments: %w", err)
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&models.EntityProject{}).Error; err != nil {
			return fmt.Errorf("delete entity links: %w", err)
		}
		if err := tx.Where("entity_type = ? AND entity_id = ?", "project", projectID).
			Delete(&models.ModelPrivilege{}).Error; err != nil {
			return fmt.Errorf("delete privileges: %w", err)
		}
		if err := tx.Model(&models.Project{}).
			Where("parent_id = ?", projectID).
			Update("parent_id", project.ParentID).Error; err != nil {
			return fmt.Errorf("reparent children: %w", err)
		}
		if err := tx.Delete(&models.Project{}, "id = ?", projectID).Error; err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("project service: delete: %w", err)
	}

	if err := s.tree.Rebuild(ctx); err != nil {
		return err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "project.delete",
		Resource: projectID,
		Result:   "success",
	})
	return nil
}

// Duplicate clones the project and grants the actor the default-on-create
// role on the clone. The caller's resolution scope is busted afterwards:
// the clone changes the actor's grant sets mid-operation, and a memoised
// holder set from before the write would not include it.
func (s *ProjectService) Duplicate(ctx context.Context, actorID, projectID string, scope *permissions.Scope) (*models.Project, error) {
	ctx = ensureContext(ctx)

	var source models.Project
	if err := s.db.WithContext(ctx).First(&source, "id = ?", projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("project service: load project: %w", err)
	}

	clone, err := s.Create(ctx, actorID, CreateProjectInput{
		Name:        source.Name + " (Copy)",
		Description: source.Description,
		ParentID:    source.ParentID,
	})
	if err != nil {
		return nil, err
	}

	scope.Bust()
	return clone, nil
}

func (s *ProjectService) ensureProjectExists(ctx context.Context, projectID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Project{}).
		Where("id = ?", projectID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("project service: check project: %w", err)
	}
	if count == 0 {
		return ErrProjectNotFound
	}
	return nil
}
