package models

// Capability interfaces composed by concrete entity types. The permission
// resolver depends only on these, never on a concrete entity struct.

// PrivilegeScoped is implemented by every object that participates in
// ModelPrivilege-based access control.
type PrivilegeScoped interface {
	PermissionEntityType() string
	PermissionEntityID() string
}

// ProjectScoped marks entities whose access derives from associated projects
// via EntityProject links.
type ProjectScoped interface {
	PrivilegeScoped
	ProjectScoped()
}

// SoftDeletable is implemented by entities supporting trash/restore.
type SoftDeletable interface {
	IsTrashed() bool
}

// EntityProject links a workbench entity to a project. The polymorphic
// (entity_type, entity_id) pair keeps the resolver generic over entity types.
type EntityProject struct {
	BaseModel

	EntityType string `gorm:"type:varchar(64);not null;uniqueIndex:idx_entity_project,priority:1" json:"entity_type"`
	EntityID   string `gorm:"type:uuid;not null;uniqueIndex:idx_entity_project,priority:2;index" json:"entity_id"`
	ProjectID  string `gorm:"type:uuid;not null;uniqueIndex:idx_entity_project,priority:3;index" json:"project_id"`
}

// TableName overrides the default table name for GORM.
func (EntityProject) TableName() string {
	return "entity_projects"
}
