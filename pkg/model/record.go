// Package model defines the persistent record types of the memory system
// and the registry that describes their storage layout.
package model

import (
	"time"
)

// Record carries the fields shared by every stored record.
type Record struct {
	ID        string         `json:"id,omitempty"`
	CreatedAt *time.Time     `json:"created_at,omitempty"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
	IsDeleted bool           `json:"is_deleted"`
	MetaData  map[string]any `json:"meta_data,omitempty"`
}

// Tenant scopes a record to a single tenant.
type Tenant struct {
	TenantID string `json:"tenant_id"`
}

// Permission is an ordered access level. Higher values imply lower ones.
type Permission int

const (
	PermissionNone   Permission = 0
	PermissionRead   Permission = 10
	PermissionWrite  Permission = 20
	PermissionManage Permission = 30
	PermissionDelete Permission = 40
	PermissionOwner  Permission = 100
)

// CanRead reports whether the level grants read access.
func (p Permission) CanRead() bool { return p >= PermissionRead }

// CanWrite reports whether the level grants write access.
func (p Permission) CanWrite() bool { return p >= PermissionWrite }

// CanManage reports whether the level grants manage access.
func (p Permission) CanManage() bool { return p >= PermissionManage }

// CanDelete reports whether the level grants delete access.
func (p Permission) CanDelete() bool { return p >= PermissionDelete }

// IsOwner reports whether the level grants ownership.
func (p Permission) IsOwner() bool { return p >= PermissionOwner }

// Grant is a single permission entry with bookkeeping fields.
type Grant struct {
	Permission Permission     `json:"permission"`
	CreatedAt  *time.Time     `json:"created_at,omitempty"`
	UpdatedAt  *time.Time     `json:"updated_at,omitempty"`
	MetaData   map[string]any `json:"meta_data,omitempty"`
}

// UserGrant binds a permission level to a user.
type UserGrant struct {
	Grant
	UserID string `json:"user_id"`
}

// GroupGrant binds a permission level to a group.
type GroupGrant struct {
	Grant
	GroupID string `json:"group_id"`
}

// Authorization carries per-record access control lists.
type Authorization struct {
	UserPermissions  []UserGrant  `json:"user_permissions,omitempty"`
	GroupPermissions []GroupGrant `json:"group_permissions,omitempty"`
	PublicPermission Grant        `json:"public_permission"`
}

// DefaultAuthorization grants public read access, the default for new records.
func DefaultAuthorization() Authorization {
	return Authorization{PublicPermission: Grant{Permission: PermissionRead}}
}
