package models

// PrivilegeState is the tri-state value of a single privilege field.
type PrivilegeState string

const (
	PrivilegeAllow   PrivilegeState = "AL"
	PrivilegeDeny    PrivilegeState = "DE"
	PrivilegeNeutral PrivilegeState = "NE"
)

// Valid reports whether the state is one of the three storage values.
func (s PrivilegeState) Valid() bool {
	switch s {
	case PrivilegeAllow, PrivilegeDeny, PrivilegeNeutral:
		return true
	}
	return false
}

// ModelPrivilege is a per-object, per-user override record with five
// independent tri-state action fields plus a full-access shortcut.
// FullAccess == AL implies allow for all five actions; an explicit DE on any
// field always removes the object from that action's result set, whatever
// other grants exist.
type ModelPrivilege struct {
	BaseModel

	EntityType string `gorm:"type:varchar(64);not null;uniqueIndex:idx_privilege_entity_user,priority:1" json:"entity_type"`
	EntityID   string `gorm:"type:uuid;not null;uniqueIndex:idx_privilege_entity_user,priority:2;index" json:"entity_id"`
	UserID     string `gorm:"type:uuid;not null;uniqueIndex:idx_privilege_entity_user,priority:3;index" json:"user_id"`

	FullAccess PrivilegeState `gorm:"column:full_access_privilege;type:varchar(2);not null;default:NE" json:"full_access_privilege" validate:"privilege_state"`
	View       PrivilegeState `gorm:"column:view_privilege;type:varchar(2);not null;default:NE" json:"view_privilege" validate:"privilege_state"`
	Edit       PrivilegeState `gorm:"column:edit_privilege;type:varchar(2);not null;default:NE" json:"edit_privilege" validate:"privilege_state"`
	Trash      PrivilegeState `gorm:"column:trash_privilege;type:varchar(2);not null;default:NE" json:"trash_privilege" validate:"privilege_state"`
	Delete     PrivilegeState `gorm:"column:delete_privilege;type:varchar(2);not null;default:NE" json:"delete_privilege" validate:"privilege_state"`
	Restore    PrivilegeState `gorm:"column:restore_privilege;type:varchar(2);not null;default:NE" json:"restore_privilege" validate:"privilege_state"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName overrides the default table name for GORM.
func (ModelPrivilege) TableName() string {
	return "model_privileges"
}
