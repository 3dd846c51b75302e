package models

// Role is a named bundle of (entity type, action) grants assignable to a
// user on a project. Exactly one role should carry DefaultOnProjectCreate;
// it is auto-assigned to a project's creator.
type Role struct {
	BaseModel

	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	Description string `json:"description"`
	IsSystem    bool   `gorm:"default:false" json:"is_system"`

	DefaultOnProjectCreate bool `gorm:"not null;default:false;index" json:"default_role_on_project_create"`
	DefaultOnUserAssign    bool `gorm:"not null;default:false;index" json:"default_role_on_project_user_assign"`

	Permissions []RolePermission `gorm:"foreignKey:RoleID" json:"permissions,omitempty"`
}

// RolePermission grants a single action on a single entity type.
type RolePermission struct {
	BaseModel

	RoleID     string `gorm:"type:uuid;not null;uniqueIndex:idx_role_entity_action,priority:1" json:"role_id"`
	EntityType string `gorm:"type:varchar(64);not null;uniqueIndex:idx_role_entity_action,priority:2;index" json:"entity_type"`
	Action     string `gorm:"type:varchar(32);not null;uniqueIndex:idx_role_entity_action,priority:3" json:"action"`
}

// TableName overrides the default table name for GORM.
func (RolePermission) TableName() string {
	return "role_permissions"
}

// RoleAssignment binds a user to a role on one project. The (user, project)
// uniqueness means a user holds at most one role per project; granting again
// updates the existing row.
type RoleAssignment struct {
	BaseModel

	UserID    string `gorm:"type:uuid;not null;uniqueIndex:idx_assignment_user_project,priority:1" json:"user_id"`
	ProjectID string `gorm:"type:uuid;not null;uniqueIndex:idx_assignment_user_project,priority:2;index" json:"project_id"`
	RoleID    string `gorm:"type:uuid;not null;index" json:"role_id"`

	User    *User    `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Project *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Role    *Role    `gorm:"foreignKey:RoleID" json:"role,omitempty"`
}

// TableName overrides the default table name for GORM.
func (RoleAssignment) TableName() string {
	return "role_assignments"
}

// GlobalPermission grants a user an action on every object of an entity type
// regardless of project membership. It backs the ALL sentinel for
// non-superusers.
type GlobalPermission struct {
	BaseModel

	UserID     string `gorm:"type:uuid;not null;uniqueIndex:idx_global_user_entity_action,priority:1" json:"user_id"`
	EntityType string `gorm:"type:varchar(64);not null;uniqueIndex:idx_global_user_entity_action,priority:2" json:"entity_type"`
	Action     string `gorm:"type:varchar(32);not null;uniqueIndex:idx_global_user_entity_action,priority:3" json:"action"`
}

// TableName overrides the default table name for GORM.
func (GlobalPermission) TableName() string {
	return "global_permissions"
}
