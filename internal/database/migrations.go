package database

import (
	"gorm.io/gorm"

	"github.com/eWorkbench/eWorkbench-sub000/internal/models"
	"github.com/eWorkbench/eWorkbench-sub000/internal/permissions"
)

// Seeded system role ids. Fixed so repeated seeding stays idempotent.
const (
	RoleIDProjectManager = "project-manager"
	RoleIDObserver       = "observer"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Project{},
		&models.Role{},
		&models.RolePermission{},
		&models.RoleAssignment{},
		&models.GlobalPermission{},
		&models.ModelPrivilege{},
		&models.EntityProject{},
		&models.Task{},
		&models.Note{},
		&models.AuditLog{},
	)
}

// SeedData populates the two system roles: the Project Manager role granted
// to every project creator, and the Observer role granted when a user is
// added to a project without an explicit role.
func SeedData(db *gorm.DB) error {
	roles := []models.Role{
		{
			BaseModel:              models.BaseModel{ID: RoleIDProjectManager},
			Name:                   "Project Manager",
			Description:            "Full access to the project and everything in it",
			IsSystem:               true,
			DefaultOnProjectCreate: true,
		},
		{
			BaseModel:           models.BaseModel{ID: RoleIDObserver},
			Name:                "Observer",
			Description:         "Read-only access to project contents",
			IsSystem:            true,
			DefaultOnUserAssign: true,
		},
	}

	for _, role := range roles {
		if err := db.Where(models.Role{BaseModel: models.BaseModel{ID: role.ID}}).
			Attrs(role).
			FirstOrCreate(&models.Role{}).Error; err != nil {
			return err
		}
	}

	if err := grantRolePermissions(db, RoleIDProjectManager, permissions.AllActions()); err != nil {
		return err
	}
	if err := grantRolePermissions(db, RoleIDObserver, []permissions.Action{permissions.ActionView}); err != nil {
		return err
	}

	return nil
}
