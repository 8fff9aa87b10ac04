package model

import (
	"time"
)

// Object grant permissions
const (
	PermViewCatalog = "view_catalog"
	PermViewCourse  = "view_course"
	PermEditCourse  = "change_course"
)

// User mirrors an identity owned by the upstream identity provider
type User struct {
	ID                   uint      `json:"id" gorm:"primarykey"`
	Username             string    `json:"username" gorm:"type:varchar(150);uniqueIndex;not null"`
	Email                string    `json:"email" gorm:"type:varchar(255)"`
	FullName             string    `json:"full_name" gorm:"type:varchar(255)"`
	IsStaff              bool      `json:"is_staff"`
	IsSuperuser          bool      `json:"is_superuser"`
	IsActive             bool      `json:"is_active"`
	NotificationsEnabled bool      `json:"notifications_enabled"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// NewUser returns an active user with notifications enabled
func NewUser(username, email string) *User {
	return &User{Username: username, Email: email, IsActive: true, NotificationsEnabled: true}
}

// Group is a named set of users, e.g. an organization's publisher group
type Group struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	Name      string    `json:"name" gorm:"type:varchar(150);uniqueIndex;not null"`
	CreatedAt time.Time `json:"created_at"`
}

// UserGroup is a group membership
type UserGroup struct {
	ID      uint `json:"id" gorm:"primarykey"`
	UserID  uint `json:"user_id" gorm:"not null;uniqueIndex:idx_user_group"`
	GroupID uint `json:"group_id" gorm:"not null;uniqueIndex:idx_user_group;index"`
}

// ObjectGrant grants a user or a group a permission on a single object
type ObjectGrant struct {
	ID         uint      `json:"id" gorm:"primarykey"`
	UserID     *uint     `json:"user_id,omitempty" gorm:"index"`
	GroupID    *uint     `json:"group_id,omitempty" gorm:"index"`
	ObjectType string    `json:"object_type" gorm:"type:varchar(50);not null;index:idx_grant_object"`
	ObjectID   uint      `json:"object_id" gorm:"not null;index:idx_grant_object"`
	Permission string    `json:"permission" gorm:"type:varchar(50);not null"`
	CreatedAt  time.Time `json:"created_at"`
}

// ModelPermission grants a user or a group a permission on every object of a type
type ModelPermission struct {
	ID       uint   `json:"id" gorm:"primarykey"`
	UserID   *uint  `json:"user_id,omitempty" gorm:"index"`
	GroupID  *uint  `json:"group_id,omitempty" gorm:"index"`
	Codename string `json:"codename" gorm:"type:varchar(100);not null"`
}

// Catalog is a saved search query with an access-controlled viewer list
type Catalog struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	Query     string    `json:"query" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Catalog) EntityType() string { return TypeCatalog }
func (c *Catalog) EntityID() uint     { return c.ID }
