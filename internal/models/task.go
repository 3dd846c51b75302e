package models

// EntityTypeTask is the stable type tag for tasks in permission checks.
const EntityTypeTask = "task"

// TaskState enumerates task progress states.
type TaskState string

const (
	TaskStateNew        TaskState = "NEW"
	TaskStateInProgress TaskState = "PROG"
	TaskStateDone       TaskState = "DONE"
)

// Task is a permission-tracked workbench entity.
type Task struct {
	BaseModel

	Title       string    `gorm:"not null" json:"title"`
	Description string    `json:"description"`
	State       TaskState `gorm:"type:varchar(8);not null;default:NEW" json:"state"`
	Priority    int       `gorm:"not null;default:3" json:"priority"`

	CreatedByID string `gorm:"type:uuid;not null;index" json:"created_by_id"`
	Deleted     bool   `gorm:"not null;default:false;index" json:"deleted"`
}

// TableName overrides the default table name for GORM.
func (Task) TableName() string {
	return "tasks"
}

// PermissionEntityType implements PrivilegeScoped.
func (Task) PermissionEntityType() string { return EntityTypeTask }

// PermissionEntityID implements PrivilegeScoped.
func (t *Task) PermissionEntityID() string { return t.ID }

// ProjectScoped marks tasks as project-associated.
func (Task) ProjectScoped() {}

// IsTrashed implements SoftDeletable.
func (t *Task) IsTrashed() bool { return t.Deleted }
