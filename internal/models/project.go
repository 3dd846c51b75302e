package models

// ProjectState enumerates the lifecycle states of a project.
type ProjectState string

// Project lifecycle states. DEL marks projects scheduled for removal; the
// soft-delete flag is tracked separately so a project can be trashed without
// leaving its lifecycle state.
const (
	ProjectStateInitialized ProjectState = "INIT"
	ProjectStateStarted     ProjectState = "START"
	ProjectStatePaused      ProjectState = "PAUSE"
	ProjectStateFinished    ProjectState = "FIN"
	ProjectStateCancelled   ProjectState = "CANCE"
	ProjectStateDeleted     ProjectState = "DEL"
)

// Project is a node in the project forest. ParentID forms the parent-pointer
// representation; TreeID/Lft/Rght/Depth hold the nested-set encoding
// maintained by the projecttree package and must only be written by its
// Rebuild.
type Project struct {
	BaseModel

	Name        string       `gorm:"not null;index" json:"name"`
	Description string       `json:"description"`
	State       ProjectState `gorm:"type:varchar(8);not null;default:INIT;index" json:"state"`

	ParentID *string  `gorm:"type:uuid;index" json:"parent_id"`
	Parent   *Project `gorm:"foreignKey:ParentID" json:"-"`

	Deleted bool `gorm:"not null;default:false;index" json:"deleted"`

	TreeID string `gorm:"type:uuid;index:idx_project_nested_set,priority:1" json:"-"`
	Lft    int    `gorm:"index:idx_project_nested_set,priority:2" json:"-"`
	Rght   int    `json:"-"`
	Depth  int    `json:"-"`

	RoleAssignments []RoleAssignment `gorm:"foreignKey:ProjectID" json:"-"`
}

// TableName overrides the default table name for GORM.
func (Project) TableName() string {
	return "projects"
}

// IsLive reports whether the project still counts as active for invariant
// checks such as the last-manager guard.
func (p *Project) IsLive() bool {
	return p != nil && !p.Deleted && p.State != ProjectStateDeleted
}
