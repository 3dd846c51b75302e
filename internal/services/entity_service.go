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

// EntityService implements the lifecycle of permission-tracked workbench
// entities (tasks and notes). Every read and write goes through the
// resolver; an object the caller cannot view answers with not-found, while
// a viewable object the caller cannot act on answers with forbidden. This
// keeps the mere existence of an object invisible to outsiders.
type EntityService struct {
	db         *gorm.DB
	resolver   *permissions.Resolver
	privileges *PrivilegeService
	audit      *AuditService
}

// NewEntityService constructs an EntityService.
func NewEntityService(db *gorm.DB, resolver *permissions.Resolver, privileges *PrivilegeService, audit *AuditService) (*EntityService, error) {
	if db == nil {
		return nil, errors.New("entity service: db is required")
	}
	if resolver == nil {
		return nil, errors.New("entity service: resolver is required")
	}
	if privileges == nil {
		return nil, errors.New("entity service: privilege service is required")
	}
	return &EntityService{db: db, resolver: resolver, privileges: privileges, audit: audit}, nil
}

// authorize enforces the visibility split for one object. When the action
// is not granted, a view check decides between forbidden (caller can see
// the object) and not-found (the object must stay invisible).
func (s *EntityService) authorize(ctx context.Context, principal permissions.Principal, entityType string, action permissions.Action, entityID string, scope *permissions.Scope) error {
	allowed, err := s.resolver.ResolveInstance(ctx, principal, entityType, action, entityID, scope)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}
	if action == permissions.ActionView {
		return apperrors.ErrNotFound
	}

	viewable, err := s.resolver.ResolveInstance(ctx, principal, entityType, permissions.ActionView, entityID, scope)
	if err != nil {
		return err
	}
	if viewable {
		return apperrors.ErrForbidden
	}
	return apperrors.ErrNotFound
}

func (s *EntityService) ensureProjectsExist(ctx context.Context, projectIDs []string) error {
	if len(projectIDs) == 0 {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Project{}).
		Where("id IN ?", projectIDs).
		Count(&count).Error; err != nil {
		return fmt.Errorf("entity service: check projects: %w", err)
	}
	if count != int64(len(projectIDs)) {
		return ErrProjectNotFound
	}
	return nil
}

func linkProjects(tx *gorm.DB, entityType, entityID string, projectIDs []string) error {
	for _, projectID := range projectIDs {
		link := models.EntityProject{
			EntityType: entityType,
			EntityID:   entityID,
			ProjectID:  projectID,
		}
		if err := tx.Create(&link).Error; err != nil {
			return fmt.Errorf("link project %s: %w", projectID, err)
		}
	}
	return nil
}

// AssignProjects replaces the project associations of an entity. It is
// guarded by the change_project action, which only roles and global grants
// can carry.
func (s *EntityService) AssignProjects(ctx context.Context, principal permissions.Principal, entityType, entityID string, projectIDs []string, scope *permissions.Scope) error {
	ctx = ensureContext(ctx)

	if _, ok := permissions.EntityType(entityType); !ok {
		return apperrors.NewBadRequest(fmt.Sprintf("unknown entity type %q", entityType))
	}
	if err := s.authorize(ctx, principal, entityType, permissions.ActionChangeProject, entityID, scope); err != nil {
		return err
	}

	projectIDs = normaliseIDs(projectIDs)
	if err := s.ensureProjectsExist(ctx, projectIDs); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
			Delete(&models.EntityProject{}).Error; err != nil {
			return fmt.Errorf("clear project links: %w", err)
		}
		return linkProjects(tx, entityType, entityID, projectIDs)
	})
	if err != nil {
		return fmt.Errorf("entity service: assign projects: %w", err)
	}

	// Project links feed the role-derived grant path, so memoised sets from
	// before the write are stale now.
	scope.Bust()

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "entity.assign_projects",
		Resource: entityID,
		Result:   "success",
		Metadata: map[string]any{"entity_type": entityType, "projects": len(projectIDs)},
	})
	return nil
}

// CreateTaskInput describes the payload accepted by CreateTask.
type CreateTaskInput struct {
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	ProjectIDs  []string `json:"project_ids"`
}

// CreateTask inserts a task, links it to the given projects and seeds the
// creator's full-access privilege in the same transaction.
func (s *EntityService) CreateTask(ctx context.Context, principal permissions.Principal, input CreateTaskInput) (*models.Task, error) {
	ctx = ensureContext(ctx)

	if principal.Anonymous() {
		return nil, apperrors.ErrUnauthorized
	}
	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	projectIDs := normaliseIDs(input.ProjectIDs)
	if err := s.ensureProjectsExist(ctx, projectIDs); err != nil {
		return nil, err
	}

	task := &models.Task{
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		State:       models.TaskStateNew,
		CreatedByID: principal.UserID,
	}
	if input.Priority > 0 {
		task.Priority = input.Priority
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(task).Error; err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		if err := linkProjects(tx, models.EntityTypeTask, task.ID, projectIDs); err != nil {
			return err
		}
		_, err := s.privileges.ensureOwnerIn(ctx, tx, models.EntityTypeTask, task.ID, principal.UserID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("entity service: create task: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &principal.UserID,
		Action:   "task.create",
		Resource: task.ID,
		Result:   "success",
	})
	return task, nil
}

// GetTask loads one task for the principal, enforcing view visibility.
func (s *EntityService) GetTask(ctx context.Context, principal permissions.Principal, taskID string, scope *permissions.Scope) (*models.Task, error) {
	ctx = ensureContext(ctx)

	if err := s.authorize(ctx, principal, models.EntityTypeTask, permissions.ActionView, taskID, scope); err != nil {
		return nil, err
	}

	var task models.Task
	if err := s.db.WithContext(ctx).First(&task, "id = ?", taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("entity service: load task: %w", err)
	}
	return &task, nil
}

// ListTasks returns every task the principal may view.
func (s *EntityService) ListTasks(ctx context.Context, principal permissions.Principal, scope *permissions.Scope) ([]models.Task, error) {
	ctx = ensureContext(ctx)

	result, err := s.resolver.ResolveSet(ctx, principal, models.EntityTypeTask, permissions.ActionView, scope)
	if err != nil {
		return nil, err
	}
	if result.Empty() {
		return nil, nil
	}

	query := result.Apply(s.db.WithContext(ctx).Order("created_at ASC"))

	var tasks []models.Task
	if err := query.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("entity service: list tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTaskInput carries optional field updates; nil fields stay unchanged.
type UpdateTaskInput struct {
	Title       *string           `json:"title"`
	Description *string           `json:"description"`
	State       *models.TaskState `json:"state"`
	Priority    *int              `json:"priority"`
}

// UpdateTask applies field changes to a task the principal may edit.
func (s *EntityService) UpdateTask(ctx context.Context, principal permissions.Principal, taskID string, input UpdateTaskInput, scope *permissions.Scope) (*models.Task, error) {
	ctx = ensureContext(ctx)

	task, err := s.GetTask(ctx, principal, taskID, scope)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, principal, models.EntityTypeTask, permissions.ActionEdit, taskID, scope); err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, apperrors.NewBadRequest("title must not be empty")
		}
		updates["title"] = title
		task.Title = title
	}
	if input.Description != nil {
		updates["description"] = *input.Description
		task.Description = *input.Description
	}
	if input.State != nil {
		updates["state"] = *input.State
		task.State = *input.State
	}
	if input.Priority != nil {
		updates["priority"] = *input.Priority
		task.Priority = *input.Priority
	}
	if len(updates) == 0 {
		return task, nil
	}

	if err := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", taskID).
		Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("entity service: update task: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "task.update",
		Resource: taskID,
		Result:   "success",
	})
	return task, nil
}

// TrashTask soft-deletes a live task.
func (s *EntityService) TrashTask(ctx context.Context, principal permissions.Principal, taskID string, scope *permissions.Scope) error {
	ctx = ensureContext(ctx)

	task, err := s.GetTask(ctx, principal, taskID, scope)
	if err != nil {
		return err
	}
	if task.Deleted {
		return apperrors.NewValidation("task is already trashed")
	}
	if err := s.authorize(ctx, principal, models.EntityTypeTask, permissions.ActionTrash, taskID, scope); err != nil {
		return err
	}
	return s.setTaskDeleted(ctx, taskID, true, "task.trash")
}

// RestoreTask clears the soft-delete flag of a trashed task.
func (s *EntityService) RestoreTask(ctx context.Context, principal permissions.Principal, taskID string, scope *permissions.Scope) error {
	ctx = ensureContext(ctx)

	task, err := s.GetTask(ctx, principal, taskID, scope)
	if err != nil {
		return err
	}
	if !task.Deleted {
		return apperrors.NewValidation("task is not trashed")
	}
	if err := s.authorize(ctx, principal, models.EntityTypeTask, permissions.ActionRestore, taskID, scope); err != nil {
		return err
	}
	return s.setTaskDeleted(ctx, taskID, false, "task.restore")
}

func (s *EntityService) setTaskDeleted(ctx context.Context, taskID string, deleted bool, auditAction string) error {
	if err := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", taskID).
		Update("deleted", deleted).Error; err != nil {
		return fmt.Errorf("entity service: update deleted flag: %w", err)
	}
	recordAudit(s.audit, ctx, AuditEntry{
		Action:   auditAction,
		Resource: taskID,
		Result:   "success",
	})
	return nil
}

// DeleteTask removes a trashed task permanently, together with its project
// links and privilege records.
func (s *EntityService) DeleteTask(ctx context.Context, principal permissions.Principal, taskID string, scope *permissions.Scope) error {
	ctx = ensureContext(ctx)

	task, err := s.GetTask(ctx, principal, taskID, scope)
	if err != nil {
		return err
	}
	if !task.Deleted {
		return apperrors.NewValidation("task must be trashed before it can be deleted")
	}
	if err := s.authorize(ctx, principal, models.EntityTypeTask, permissions.ActionDelete, taskID, scope); err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("entity_type = ? AND entity_id = ?", models.EntityTypeTask, taskID).
			Delete(&models.EntityProject{}).Error; err != nil {
			return fmt.Errorf("delete project links: %w", err)
		}
		if err := s.privileges.deleteForEntity(ctx, tx, models.EntityTypeTask, taskID); err != nil {
			return err
		}
		if err := tx.Delete(&models.Task{}, "id = ?", taskID).Error; err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("entity service: delete task: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "task.delete",
		Resource: taskID,
		Result:   "success",
	})
	return nil
}

// CreateNoteInput describes the payload accepted by CreateNote.
type CreateNoteInput struct {
	Subject    string   `json:"subject" validate:"required"`
	Content    string   `json:"content"`
	ProjectIDs []string `json:"project_ids"`
}

// CreateNote inserts a note the same way CreateTask inserts a task.
func (s *EntityService) CreateNote(ctx context.Context, principal permissions.Principal, input CreateNoteInput) (*models.Note, error) {
	ctx = ensureContext(ctx)

	if principal.Anonymous() {
		return nil, apperrors.ErrUnauthorized
	}
	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	projectIDs := normaliseIDs(input.ProjectIDs)
	if err := s.ensureProjectsExist(ctx, projectIDs); err != nil {
		return nil, err
	}

	note := &models.Note{
		Subject:     strings.TrimSpace(input.Subject),
		Content:     input.Content,
		CreatedByID: principal.UserID,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(note).Error; err != nil {
			return fmt.Errorf("create note: %w", err)
		}
		if err := linkProjects(tx, models.EntityTypeNote, note.ID, projectIDs); err != nil {
			return err
		}
		_, err := s.privileges.ensureOwnerIn(ctx, tx, models.EntityTypeNote, note.ID, principal.UserID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("entity service: create note: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &principal.UserID,
		Action:   "note.create",
		Resource: note.ID,
		Result:   "success",
	})
	return note, nil
}

// GetNote loads one note for the principal, enforcing view visibility.
func (s *EntityService) GetNote(ctx context.Context, principal permissions.Principal, noteID string, scope *permissions.Scope) (*models.Note, error) {
	ctx = ensureContext(ctx)

	if err := s.authorize(ctx, principal, models.EntityTypeNote, permissions.ActionView, noteID, scope); err != nil {
		return nil, err
	}

	var note models.Note
	if err := s.db.WithContext(ctx).First(&note, "id = ?", noteID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("entity service: load note: %w", err)
	}
	return &note, nil
}

// ListNotes returns every note the principal may view.
func (s *EntityService) ListNotes(ctx context.Context, principal permissions.Principal, scope *permissions.Scope) ([]models.Note, error) {
	ctx = ensureContext(ctx)

	result, err := s.resolver.ResolveSet(ctx, principal, models.EntityTypeNote, permissions.ActionView, scope)
	if err != nil {
		return nil, err
	}
	if result.Empty() {
		return nil, nil
	}

	query := result.Apply(s.db.WithContext(ctx).Order("created_at ASC"))

	var notes []models.Note
	if err := query.Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("entity service: list notes: %w", err)
	}
	return notes, nil
}

// TrashNote soft-deletes a live note.
func (s *EntityService) TrashNote(ctx context.Context, principal permissions.Principal, noteID string, scope *permissions.Scope) error {
	ctx = ensureContext(ctx)

	note, err := s.GetNote(ctx, principal, noteID, scope)
	if err != nil {
		return err
	}
	if note.Deleted {
		return apperrors.NewValidation("note is already trashed")
	}
	if err := s.authorize(ctx, principal, models.EntityTypeNote, permissions.ActionTrash, noteID, scope); err != nil {
		return err
	}
	return s.setNoteDeleted(ctx, noteID, true, "note.trash")
}

// RestoreNote clears the soft-delete flag of a trashed note.
func (s *EntityService) RestoreNote(ctx context.Context, principal permissions.Principal, noteID string, scope *permissions.Scope) error {
	ctx = ensureContext(ctx)

	note, err := s.GetNote(ctx, principal, noteID, scope)
	if err != nil {
		return err
	}
	if !note.Deleted {
		return apperrors.NewValidation("note is not trashed")
	}
	if err := s.authorize(ctx, principal, models.EntityTypeNote, permissions.ActionRestore, noteID, scope); err != nil {
		return err
	}
	return s.setNoteDeleted(ctx, noteID, false, "note.restore")
}

func (s *EntityService) setNoteDeleted(ctx context.Context, noteID string, deleted bool, auditAction string) error {
	if err := s.db.WithContext(ctx).Model(&models.Note{}).
		Where("id = ?", noteID).
		Update("deleted", deleted).Error; err != nil {
		return fmt.Errorf("entity service: update deleted flag: %w", err)
	}
	recordAudit(s.audit, ctx, AuditEntry{
		Action:   auditAction,
		Resource: noteID,
		Result:   "success",
	})
	return nil
}

// DeleteNote removes a trashed note permanently.
func (s *EntityService) DeleteNote(ctx context.Context, principal permissions.Principal, noteID string, scope *permissions.Scope) error {
	ctx = ensureContext(ctx)

	note, err := s.GetNote(ctx, principal, noteID, scope)
	if err != nil {
		return err
	}
	if !note.Deleted {
		return apperrors.NewValidation("note must be trashed before it can be deleted")
	}
	if err := s.authorize(ctx, principal, models.EntityTypeNote, permissions.ActionDelete, noteID, scope); err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("entity_type = ? AND entity_id = ?", models.EntityTypeNote, noteID).
			Delete(&models.EntityProject{}).Error; err != nil {
			return fmt.Errorf("delete project links: %w", err)
		}
		if err := s.privileges.deleteForEntity(ctx, tx, models.EntityTypeNote, noteID); err != nil {
			return err
		}
		if err := tx.Delete(&models.Note{}, "id = ?", noteID).Error; err != nil {
			return fmt.Errorf("delete note: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("entity service: delete note: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "note.delete",
		Resource: noteID,
		Result:   "success",
	})
	return nil
}
