package model

import (
	"time"

	"gorm.io/gorm"
)

// Partner is the tenancy root; every ingested entity belongs to exactly one partner
type Partner struct {
	ID                   uint      `json:"id" gorm:"primarykey"`
	Name                 string    `json:"name" gorm:"type:varchar(255);not null"`
	ShortCode            string    `json:"short_code" gorm:"type:varchar(8);uniqueIndex;not null"`
	CoursesAPIURL        string    `json:"courses_api_url" gorm:"type:varchar(255)"`
	EcommerceAPIURL      string    `json:"ecommerce_api_url" gorm:"type:varchar(255)"`
	OrganizationsAPIURL  string    `json:"organizations_api_url" gorm:"type:varchar(255)"`
	ProgramsAPIURL       string    `json:"programs_api_url" gorm:"type:varchar(255)"`
	MarketingAPIURL      string    `json:"marketing_api_url" gorm:"type:varchar(255)"`
	MarketingSiteURLRoot string    `json:"marketing_site_url_root" gorm:"type:varchar(255)"`
	OAuth2ProviderURL    string    `json:"oauth2_provider_url" gorm:"type:varchar(255)"`
	OAuth2ClientID       string    `json:"-" gorm:"type:varchar(255)"`
	OAuth2ClientSecret   string    `json:"-" gorm:"type:varchar(255)"` // Never expose credentials in JSON responses
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (p *Partner) EntityType() string { return TypePartner }
func (p *Partner) EntityID() uint     { return p.ID }

// HasOAuth reports whether outbound calls for this partner should carry a client-credentials token
func (p *Partner) HasOAuth() bool {
	return p.OAuth2ProviderURL != "" && p.OAuth2ClientID != ""
}

// Organization is a partner organization that authors or sponsors courses
type Organization struct {
	ID           uint      `json:"id" gorm:"primarykey"`
	UUID         string    `json:"uuid" gorm:"type:varchar(36);uniqueIndex;not null"`
	PartnerID    uint      `json:"partner_id" gorm:"not null;uniqueIndex:idx_org_partner_key"`
	Key          string    `json:"key" gorm:"type:varchar(255);not null;uniqueIndex:idx_org_partner_key"`
	Name         string    `json:"name" gorm:"type:varchar(255)"`
	Description  string    `json:"description" gorm:"type:text"`
	LogoImageURL string    `json:"logo_image_url" gorm:"type:varchar(255)"`
	Homepage     string    `json:"homepage_url,omitempty" gorm:"type:varchar(255)"`
	Slug         string    `json:"slug,omitempty" gorm:"type:varchar(255)"`
	// GroupID is the publisher group whose members edit this organization's courses
	GroupID   *uint     `json:"-" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (o *Organization) EntityType() string { return TypeOrganization }
func (o *Organization) EntityID() uint     { return o.ID }

// BeforeCreate hook assigns a UUID when none was supplied
func (o *Organization) BeforeCreate(tx *gorm.DB) error {
	if o.UUID == "" {
		o.UUID = newUUID()
	}
	return nil
}

// Subject is a partner-scoped topic a course can be filed under
type Subject struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	UUID      string    `json:"uuid" gorm:"type:varchar(36);uniqueIndex;not null"`
	PartnerID uint      `json:"partner_id" gorm:"not null;uniqueIndex:idx_subject_partner_slug"`
	Slug      string    `json:"slug" gorm:"type:varchar(255);not null;uniqueIndex:idx_subject_partner_slug"`
	Name      string    `json:"name" gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Subject) EntityType() string { return TypeSubject }
func (s *Subject) EntityID() uint     { return s.ID }

// BeforeCreate hook assigns a UUID when none was supplied
func (s *Subject) BeforeCreate(tx *gorm.DB) error {
	if s.UUID == "" {
		s.UUID = newUUID()
	}
	return nil
}
