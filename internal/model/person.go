package model

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Person is an instructor or staff member
type Person struct {
	ID              uint      `json:"id" gorm:"primarykey"`
	UUID            string    `json:"uuid" gorm:"type:varchar(36);uniqueIndex;not null"`
	PartnerID       uint      `json:"partner_id" gorm:"not null;index"`
	GivenName       string    `json:"given_name" gorm:"type:varchar(255)"`
	FamilyName      string    `json:"family_name" gorm:"type:varchar(255)"`
	Bio             string    `json:"bio" gorm:"type:text"`
	ProfileImageURL string    `json:"profile_image_url" gorm:"type:varchar(255)"`
	Slug            string    `json:"slug" gorm:"type:varchar(255);index"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Position         *PersonPosition         `json:"position,omitempty" gorm:"foreignKey:PersonID"`
	SocialNetworks   []PersonSocialNetwork   `json:"urls_detailed,omitempty" gorm:"foreignKey:PersonID"`
	AreasOfExpertise []PersonAreaOfExpertise `json:"areas_of_expertise,omitempty" gorm:"foreignKey:PersonID"`
}

func (p *Person) EntityType() string { return TypePerson }
func (p *Person) EntityID() uint     { return p.ID }

// BeforeCreate hook assigns a UUID when none was supplied
func (p *Person) BeforeCreate(tx *gorm.DB) error {
	if p.UUID == "" {
		p.UUID = newUUID()
	}
	return nil
}

// FullName joins given and family names
func (p *Person) FullName() string {
	return strings.TrimSpace(p.GivenName + " " + p.FamilyName)
}

// PersonPosition is a person's job title at an organization
type PersonPosition struct {
	ID               uint   `json:"-" gorm:"primarykey"`
	PersonID         uint   `json:"-" gorm:"not null;uniqueIndex"`
	Title            string `json:"title" gorm:"type:varchar(255)"`
	OrganizationID   *uint  `json:"-"`
	OrganizationName string `json:"organization_name" gorm:"type:varchar(255)"`
}

// PersonSocialNetwork is one ordered social profile link
type PersonSocialNetwork struct {
	ID       uint   `json:"-" gorm:"primarykey"`
	PersonID uint   `json:"-" gorm:"not null;index"`
	Type     string `json:"type" gorm:"type:varchar(20)"`
	Title    string `json:"title" gorm:"type:varchar(255)"`
	URL      string `json:"url" gorm:"type:varchar(500)"`
	Position int    `json:"position"`
}

// PersonAreaOfExpertise is one ordered area of expertise
type PersonAreaOfExpertise struct {
	ID       uint   `json:"-" gorm:"primarykey"`
	PersonID uint   `json:"-" gorm:"not null;index"`
	Value    string `json:"value" gorm:"type:varchar(255)"`
	Position int    `json:"position"`
}
