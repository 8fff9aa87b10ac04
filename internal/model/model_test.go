package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSeatValidate(t *testing.T) {
	tests := []struct {
		name    string
		seat    Seat
		wantErr bool
	}{
		{"free audit", Seat{Type: SeatAudit, Price: decimal.Zero}, false},
		{"paid audit", Seat{Type: SeatAudit, Price: decimal.NewFromInt(10)}, true},
		{"verified", Seat{Type: SeatVerified, Price: decimal.NewFromInt(49)}, false},
		{"negative", Seat{Type: SeatVerified, Price: decimal.NewFromInt(-1)}, true},
		{"unknown type", Seat{Type: "gold", Price: decimal.Zero}, true},
		{"credit complete", Seat{Type: SeatCredit, Price: decimal.NewFromInt(100), CreditPrice: decimal.NewFromInt(300), CreditHours: 3}, false},
		{"credit without credit price", Seat{Type: SeatCredit, Price: decimal.NewFromInt(100), CreditHours: 3}, true},
		{"credit without hours", Seat{Type: SeatCredit, Price: decimal.NewFromInt(100), CreditPrice: decimal.NewFromInt(300)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.seat.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReviewedGaps(t *testing.T) {
	start := time.Date(2017, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 3, 0)
	run := CourseRun{
		Start:        &start,
		End:          &end,
		Pacing:       PacingSelf,
		LanguageCode: "en-us",
		Staff:        []CourseRunStaff{{PersonID: 1}},
		Seats:        []Seat{{Type: SeatAudit, Price: decimal.Zero}},
	}
	if gaps := run.ReviewedGaps(); len(gaps) != 0 {
		t.Fatalf("expected no gaps, got %v", gaps)
	}

	run.Seats = []Seat{{Type: SeatAudit, Price: decimal.NewFromInt(5)}}
	run.Pacing = ""
	gaps := run.ReviewedGaps()
	if len(gaps) != 2 || gaps[0] != "pacing_type" || gaps[1] != "seats" {
		t.Errorf("unexpected gaps %v", gaps)
	}
}

func TestAtLeastReviewed(t *testing.T) {
	for status, want := range map[string]bool{
		RunStatusDraft:          false,
		RunStatusInternalReview: false,
		RunStatusLegalReview:    false,
		RunStatusReviewed:       true,
		RunStatusPublished:      true,
	} {
		if got := AtLeastReviewed(status); got != want {
			t.Errorf("AtLeastReviewed(%q) = %v", status, got)
		}
	}
}

func TestAvailability(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.AddDate(0, -2, 0)
	soon := now.AddDate(0, 0, 10)
	later := now.AddDate(1, 0, 0)

	tests := []struct {
		name string
		run  CourseRun
		want string
	}{
		{"archived", CourseRun{Start: &past, End: &past}, "Archived"},
		{"current", CourseRun{Start: &past, End: &later}, "Current"},
		{"starting soon", CourseRun{Start: &soon}, "Starting Soon"},
		{"upcoming", CourseRun{Start: &later}, "Upcoming"},
	}
	for _, tt := range tests {
		if got := tt.run.Availability(now); got != tt.want {
			t.Errorf("%s: Availability() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestValidateExcludedRuns(t *testing.T) {
	p := Program{
		Courses:      []ProgramCourse{{CourseID: 1}},
		ExcludedRuns: []ProgramExcludedRun{{CourseRun: CourseRun{CourseID: 1, Key: "A+B+1T2017"}}},
	}
	if err := p.ValidateExcludedRuns(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	p.ExcludedRuns = append(p.ExcludedRuns, ProgramExcludedRun{CourseRun: CourseRun{CourseID: 2, Key: "X+Y+1T2017"}})
	if err := p.ValidateExcludedRuns(); err == nil {
		t.Fatal("expected error for run of a non-member course")
	}
}

func TestPrimarySubject(t *testing.T) {
	c := Course{Subjects: []CourseSubject{
		{Position: 1, Subject: Subject{Slug: "math"}},
		{Position: 0, Subject: Subject{Slug: "cs"}},
	}}
	if s := c.PrimarySubject(); s == nil || s.Slug != "cs" {
		t.Errorf("PrimarySubject() = %v", s)
	}
	if (&Course{}).PrimarySubject() != nil {
		t.Error("expected nil primary subject")
	}
}
