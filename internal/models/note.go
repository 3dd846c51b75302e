package models

// EntityTypeNote is the stable type tag for notes in permission checks.
const EntityTypeNote = "note"

// Note is a second permission-tracked entity type, used to verify that the
// resolver behaves uniformly across types.
type Note struct {
	BaseModel

	Subject string `gorm:"not null" json:"subject"`
	Content string `json:"content"`

	CreatedByID string `gorm:"type:uuid;not null;index" json:"created_by_id"`
	Deleted     bool   `gorm:"not null;default:false;index" json:"deleted"`
}

// TableName overrides the default table name for GORM.
func (Note) TableName() string {
	return "notes"
}

// PermissionEntityType implements PrivilegeScoped.
func (Note) PermissionEntityType() string { return EntityTypeNote }

// PermissionEntityID implements PrivilegeScoped.
func (n *Note) PermissionEntityID() string { return n.ID }

// ProjectScoped marks notes as project-associated.
func (Note) ProjectScoped() {}

// IsTrashed implements SoftDeletable.
func (n *Note) IsTrashed() bool { return n.Deleted }
