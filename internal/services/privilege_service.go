package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/eWorkbench/eWorkbench-sub000/internal/models"
	"github.com/eWorkbench/eWorkbench-sub000/internal/permissions"
	apperrors "github.com/eWorkbench/eWorkbench-sub000/pkg/errors"
	"github.com/eWorkbench/eWorkbench-sub000/pkg/validator"
)

// ErrPrivilegeNotFound indicates the requested privilege record does not exist.
var ErrPrivilegeNotFound = apperrors.New("PRIVILEGE_NOT_FOUND", "Privilege not found", 404)

// PrivilegeService manages per-object privilege overrides.
type PrivilegeService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewPrivilegeService constructs a PrivilegeService using the provided
// database handle.
func NewPrivilegeService(db *gorm.DB, audit *AuditService) (*PrivilegeService, error) {
	if db == nil {
		return nil, errors.New("privilege service: db is required")
	}
	return &PrivilegeService{db: db, audit: audit}, nil
}

// EnsureOwner creates the owner privilege record (full access ALLOW) for a
// freshly created object. An existing record for the pair is left untouched.
func (s *PrivilegeService) EnsureOwner(ctx context.Context, entityType, entityID, userID string) (*models.ModelPrivilege, error) {
	ctx = ensureContext(ctx)

	if _, ok := permissions.EntityType(entityType); !ok {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown entity type %q", entityType))
	}
	return s.ensureOwnerIn(ctx, s.db, entityType, entityID, userID)
}

// ensureOwnerIn runs the owner-privilege upsert against the supplied handle,
// which may be a transaction owned by the caller.
func (s *PrivilegeService) ensureOwnerIn(ctx context.Context, db *gorm.DB, entityType, entityID, userID string) (*models.ModelPrivilege, error) {
	var existing models.ModelPrivilege
	err := db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND user_id = ?", entityType, entityID, userID).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("privilege service: lookup owner privilege: %w", err)
	}

	record := &models.ModelPrivilege{
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		FullAccess: models.PrivilegeAllow,
		View:       models.PrivilegeNeutral,
		Edit:       models.PrivilegeNeutral,
		Trash:      models.PrivilegeNeutral,
		Delete:     models.PrivilegeNeutral,
		Restore:    models.PrivilegeNeutral,
	}
	if err := db.WithContext(ctx).Create(record).Error; err != nil {
		if isUniqueConstraintError(err) {
			// Lost a race against a concurrent creator; the record exists now.
			if lookupErr := db.WithContext(ctx).
				Where("entity_type = ? AND entity_id = ? AND user_id = ?", entityType, entityID, userID).
				First(&existing).Error; lookupErr == nil {
				return &existing, nil
			}
		}
		return nil, fmt.Errorf("privilege service: create owner privilege: %w", err)
	}
	return record, nil
}

// UpsertPrivilegeInput carries the tri-state fields for one (entity, user)
// privilege record. Omitted fields default to NE.
type UpsertPrivilegeInput struct {
	EntityType string `json:"entity_type" validate:"required"`
	EntityID   string `json:"entity_id" validate:"required"`
	UserID     string `json:"user_id" validate:"required"`

	FullAccess models.PrivilegeState `json:"full_access_privilege" validate:"privilege_state"`
	View       models.PrivilegeState `json:"view_privilege" validate:"privilege_state"`
	Edit       models.PrivilegeState `json:"edit_privilege" validate:"privilege_state"`
	Trash      models.PrivilegeState `json:"trash_privilege" validate:"privilege_state"`
	Delete     models.PrivilegeState `json:"delete_privilege" validate:"privilege_state"`
	Restore    models.PrivilegeState `json:"restore_privilege" validate:"privilege_state"`
}

func (in *UpsertPrivilegeInput) applyDefaults() {
	fields := []*models.PrivilegeState{&in.FullAccess, &in.View, &in.Edit, &in.Trash, &in.Delete, &in.Restore}
	for _, f := range fields {
		if *f == "" {
			*f = models.PrivilegeNeutral
		}
	}
}

// Upsert creates or updates the privilege record for the (entity, user) pair.
func (s *PrivilegeService) Upsert(ctx context.Context, input UpsertPrivilegeInput) (*models.ModelPrivilege, error) {
	ctx = ensureContext(ctx)

	input.applyDefaults()
	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}
	if _, ok := permissions.EntityType(input.EntityType); !ok {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown entity type %q", input.EntityType))
	}

	var record models.ModelPrivilege
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND user_id = ?", input.EntityType, input.EntityID, input.UserID).
		First(&record).Error
	switch {
	case err == nil:
		updates := map[string]any{
			"full_access_privilege": input.FullAccess,
			"view_privilege":        input.View,
			"edit_privilege":        input.Edit,
			"trash_privilege":       input.Trash,
			"delete_privilege":      input.Delete,
			"restore_privilege":     input.Restore,
		}
		if err := s.db.WithContext(ctx).Model(&record).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("privilege service: update privilege: %w", err)
		}
		record.FullAccess = input.FullAccess
		record.View = input.View
		record.Edit = input.Edit
		record.Trash = input.Trash
		record.Delete = input.Delete
		record.Restore = input.Restore
	case errors.Is(err, gorm.ErrRecordNotFound):
		record = models.ModelPrivilege{
			EntityType: input.EntityType,
			EntityID:   input.EntityID,
			UserID:     input.UserID,
			FullAccess: input.FullAccess,
			View:       input.View,
			Edit:       input.Edit,
			Trash:      input.Trash,
			Delete:     input.Delete,
			Restore:    input.Restore,
		}
		if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
			return nil, fmt.Errorf("privilege service: create privilege: %w", err)
		}
	default:
		return nil, fmt.Errorf("privilege service: lookup privilege: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "privilege.upsert",
		Resource: record.ID,
		Result:   "success",
		Metadata: map[string]any{
			"entity_type": record.EntityType,
			"entity_id":   record.EntityID,
			"user_id":     record.UserID,
		},
	})
	return &record, nil
}

// List returns all privilege records attached to one object.
func (s *PrivilegeService) List(ctx context.Context, entityType, entityID string) ([]models.ModelPrivilege, error) {
	ctx = ensureContext(ctx)

	var rows []models.ModelPrivilege
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("privilege service: list privileges: %w", err)
	}
	return rows, nil
}

// IsDeletable reports whether the privilege record can be removed without
// leaving its object orphaned. The last remaining record for an object is
// not deletable; the count is taken fresh on every call.
func (s *PrivilegeService) IsDeletable(ctx context.Context, privilegeID string) (bool, error) {
	ctx = ensureContext(ctx)

	record, err := s.load(ctx, privilegeID)
	if err != nil {
		return false, err
	}

	var others int64
	err = s.db.WithContext(ctx).Model(&models.ModelPrivilege{}).
		Where("entity_type = ? AND entity_id = ?", record.EntityType, record.EntityID).
		Where("id <> ?", record.ID).
		Count(&others).Error
	if err != nil {
		return false, fmt.Errorf("privilege service: count privileges: %w", err)
	}
	return others > 0, nil
}

// Delete removes one privilege record, refusing to delete the last record
// attached to its object.
func (s *PrivilegeService) Delete(ctx context.Context, privilegeID string) error {
	ctx = ensureContext(ctx)

	deletable, err := s.IsDeletable(ctx, privilegeID)
	if err != nil {
		return err
	}
	if !deletable {
		return apperrors.NewValidation("cannot delete the last privilege of an object")
	}

	if err := s.db.WithContext(ctx).Delete(&models.ModelPrivilege{}, "id = ?", privilegeID).Error; err != nil {
		return fmt.Errorf("privilege service: delete privilege: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "privilege.delete",
		Resource: privilegeID,
		Result:   "success",
	})
	return nil
}

// deleteForEntity removes every privilege record of an object. It backs
// entity destruction and bypasses the last-privilege guard.
func (s *PrivilegeService) deleteForEntity(ctx context.Context, tx *gorm.DB, entityType, entityID string) error {
	err := tx.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Delete(&models.ModelPrivilege{}).Error
	if err != nil {
		return fmt.Errorf("privilege service: delete entity privileges: %w", err)
	}
	return nil
}

func (s *PrivilegeService) load(ctx context.Context, privilegeID string) (*models.ModelPrivilege, error) {
	var record models.ModelPrivilege
	if err := s.db.WithContext(ctx).First(&record, "id = ?", privilegeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPrivilegeNotFound
		}
		return nil, fmt.Errorf("privilege service: load privilege: %w", err)
	}
	return &record, nil
}
