package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/store/storetest"
)

type recordingListener struct {
	saved   []string
	deleted []string
}

func (l *recordingListener) OnSaved(_ context.Context, e model.Entity) {
	l.saved = append(l.saved, e.EntityType())
}

func (l *recordingListener) OnDeleted(_ context.Context, e model.Entity) {
	l.deleted = append(l.deleted, e.EntityType())
}

func TestSaveAppendsHistoryAndSignals(t *testing.T) {
	db := storetest.NewDB(t)
	s := New(db, nil)
	l := &recordingListener{}
	s.Subscribe(l)
	p := storetest.Partner(t, db, "edx")

	course := &model.Course{PartnerID: p.ID, Key: "A+B", Title: "Intro"}
	if err := s.Save(context.Background(), "alice", course); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	course.Title = "Intro 2"
	if err := s.Save(context.Background(), "bob", course); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var history []model.History
	db.Where("entity_type = ? AND entity_id = ?", model.TypeCourse, course.ID).Order("id").Find(&history)
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	if history[0].Action != model.ActionCreate || history[0].ChangedBy != "alice" {
		t.Errorf("unexpected first history row %+v", history[0])
	}
	if history[1].Action != model.ActionUpdate || history[1].ChangedBy != "bob" {
		t.Errorf("unexpected second history row %+v", history[1])
	}
	if len(l.saved) != 2 {
		t.Errorf("expected 2 saved signals, got %v", l.saved)
	}
}

func TestRollbackSuppressesSignals(t *testing.T) {
	db := storetest.NewDB(t)
	s := New(db, nil)
	l := &recordingListener{}
	s.Subscribe(l)
	p := storetest.Partner(t, db, "edx")

	boom := errors.New("boom")
	err := s.WithTx(context.Background(), "alice", nil, func(tx *Tx) error {
		if err := tx.Save(&model.Course{PartnerID: p.ID, Key: "A+B"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(l.saved) != 0 {
		t.Errorf("expected no signals after rollback, got %v", l.saved)
	}
	var n int64
	db.Model(&model.Course{}).Count(&n)
	if n != 0 {
		t.Errorf("expected rollback to discard the course, found %d", n)
	}
}

func TestSignalsAreDedupedPerEntity(t *testing.T) {
	db := storetest.NewDB(t)
	s := New(db, nil)
	l := &recordingListener{}
	s.Subscribe(l)
	p := storetest.Partner(t, db, "edx")

	err := s.WithTx(context.Background(), "alice", nil, func(tx *Tx) error {
		c := &model.Course{PartnerID: p.ID, Key: "A+B"}
		if err := tx.Save(c); err != nil {
			return err
		}
		c.Title = "again"
		if err := tx.Save(c); err != nil {
			return err
		}
		tx.Touch(c)
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}
	if len(l.saved) != 1 {
		t.Errorf("expected a single saved signal, got %v", l.saved)
	}
}

func TestCaseInsensitiveFinders(t *testing.T) {
	db := storetest.NewDB(t)
	s := New(db, nil)
	p := storetest.Partner(t, db, "edx")
	c := storetest.Course(t, db, p.ID, "MITx+6.002x", "Circuits")
	storetest.Run(t, db, c, "MITx+6.002x+1T2017")

	if got, err := s.CourseByKey(p.ID, "mitx+6.002X"); err != nil || got.ID != c.ID {
		t.Errorf("CourseByKey() = %v, %v", got, err)
	}
	if _, err := s.CourseRunByKey(p.ID, "MITX+6.002X+1t2017"); err != nil {
		t.Errorf("CourseRunByKey() error = %v", err)
	}
	if _, err := s.CourseByKey(p.ID, "missing+key"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDeleteCourseCascades(t *testing.T) {
	db := storetest.NewDB(t)
	s := New(db, nil)
	p := storetest.Partner(t, db, "edx")
	c := storetest.Course(t, db, p.ID, "A+B", "Intro")
	r := storetest.Run(t, db, c, "A+B+1T2017")
	db.Create(&model.Seat{CourseRunID: r.ID, Type: model.SeatAudit, Price: decimal.Zero, Currency: "USD"})
	db.Create(&model.CourseRunState{CourseRunID: r.ID, Name: model.StateDraft, OwnerRole: model.RoleCourseTeam})

	err := s.WithTx(context.Background(), "sweeper", nil, func(tx *Tx) error {
		return tx.DeleteCourse(c)
	})
	if err != nil {
		t.Fatalf("DeleteCourse() error = %v", err)
	}
	for name, m := range map[string]interface{}{
		"courses": &model.Course{},
		"runs":    &model.CourseRun{},
		"seats":   &model.Seat{},
		"states":  &model.CourseRunState{},
	} {
		var n int64
		db.Model(m).Count(&n)
		if n != 0 {
			t.Errorf("expected no %s left, found %d", name, n)
		}
	}
}

func TestDeletePersonForbiddenWhileReferenced(t *testing.T) {
	db := storetest.NewDB(t)
	s := New(db, nil)
	p := storetest.Partner(t, db, "edx")
	c := storetest.Course(t, db, p.ID, "A+B", "Intro")
	r := storetest.Run(t, db, c, "A+B+1T2017")
	person := &model.Person{PartnerID: p.ID, GivenName: "Ada"}
	db.Create(person)
	db.Create(&model.CourseRunStaff{CourseRunID: r.ID, PersonID: person.ID})

	err := s.WithTx(context.Background(), "admin", nil, func(tx *Tx) error {
		return tx.DeletePerson(person)
	})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
