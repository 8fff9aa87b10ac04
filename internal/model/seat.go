package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Seat types
const (
	SeatAudit              = "audit"
	SeatHonor              = "honor"
	SeatVerified           = "verified"
	SeatProfessional       = "professional"
	SeatNoIDProfessional   = "no-id-professional"
	SeatCredit             = "credit"
	DefaultCurrency        = "USD"
	DefaultCertificateType = SeatAudit
)

var seatTypes = map[string]bool{
	SeatAudit:            true,
	SeatHonor:            true,
	SeatVerified:         true,
	SeatProfessional:     true,
	SeatNoIDProfessional: true,
	SeatCredit:           true,
}

// ValidSeatType reports whether t is a known seat type
func ValidSeatType(t string) bool {
	return seatTypes[t]
}

// Seat is a purchasable enrollment option on a course run.
// (run, type, credit provider, currency) is unique.
type Seat struct {
	ID              uint            `json:"-" gorm:"primarykey"`
	CourseRunID     uint            `json:"-" gorm:"not null;uniqueIndex:idx_seat_natural"`
	Type            string          `json:"type" gorm:"type:varchar(30);not null;uniqueIndex:idx_seat_natural"`
	Price           decimal.Decimal `json:"price" gorm:"type:decimal(10,2);not null"`
	Currency        string          `json:"currency" gorm:"type:varchar(3);not null;uniqueIndex:idx_seat_natural"`
	UpgradeDeadline *time.Time      `json:"upgrade_deadline"`
	CreditProvider  string          `json:"credit_provider" gorm:"type:varchar(255);not null;default:'';uniqueIndex:idx_seat_natural"`
	CreditHours     int             `json:"credit_hours"`
	CreditPrice     decimal.Decimal `json:"credit_price" gorm:"type:decimal(10,2)"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (s *Seat) EntityType() string { return TypeSeat }
func (s *Seat) EntityID() uint     { return s.ID }

// Validate checks the seat invariants
func (s *Seat) Validate() error {
	if !ValidSeatType(s.Type) {
		return fmt.Errorf("unknown seat type %q", s.Type)
	}
	if s.Price.IsNegative() {
		return fmt.Errorf("seat price must not be negative")
	}
	if s.Type == SeatAudit && !s.Price.IsZero() {
		return fmt.Errorf("audit seat price must be 0")
	}
	if s.Type == SeatCredit {
		if !s.Price.IsPositive() || !s.CreditPrice.IsPositive() {
			return fmt.Errorf("credit seat requires a positive price and credit price")
		}
		if s.CreditHours <= 0 {
			return fmt.Errorf("credit seat requires positive credit hours")
		}
	}
	return nil
}

// IsValid reports whether the seat satisfies every seat invariant
func (s *Seat) IsValid() bool {
	return s.Validate() == nil
}
