package database

import (
	"gorm.io/gorm"

	"github.com/eWorkbench/eWorkbench-sub000/internal/models"
	"github.com/eWorkbench/eWorkbench-sub000/internal/permissions"
)

// grantRolePermissions attaches the given actions for every registered
// entity type to the role, skipping grants that already exist.
func grantRolePermissions(db *gorm.DB, roleID string, actions []permissions.Action) error {
	var existing []models.RolePermission
	if err := db.Where("role_id = ?", roleID).Find(&existing).Error; err != nil {
		return err
	}

	current := make(map[string]struct{}, len(existing))
	for _, perm := range existing {
		current[perm.EntityType+"/"+perm.Action] = struct{}{}
	}

	var toCreate []models.RolePermission
	for _, desc := range permissions.EntityTypes() {
		for _, action := range actions {
			if _, ok := current[desc.Key+"/"+string(action)]; ok {
				continue
			}
			toCreate = append(toCreate, models.RolePermission{
				RoleID:     roleID,
				EntityType: desc.Key,
				Action:     string(action),
			})
		}
	}

	if len(toCreate) == 0 {
		return nil
	}
	return db.Create(&toCreate).Error
}
