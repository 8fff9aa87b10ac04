// Package storetest opens throwaway sqlite databases migrated with the catalog models
package storetest

import (
	"path/filepath"
	"testing"

	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/pkg/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated database file that lives for the duration of the test
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "catalog.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// Partner creates a partner with the given short code
func Partner(t testing.TB, db *gorm.DB, code string) *model.Partner {
	t.Helper()
	p := &model.Partner{Name: code, ShortCode: code, MarketingSiteURLRoot: "https://www.example.com"}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("failed to create partner: %v", err)
	}
	return p
}

// User creates an active user with notifications enabled
func User(t testing.TB, db *gorm.DB, username string, staff bool) *model.User {
	t.Helper()
	u := model.NewUser(username, username+"@example.com")
	u.IsStaff = staff
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return u
}

// Course creates a bare course
func Course(t testing.TB, db *gorm.DB, partnerID uint, key, title string) *model.Course {
	t.Helper()
	c := &model.Course{PartnerID: partnerID, Key: key, Title: title}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("failed to create course: %v", err)
	}
	return c
}

// Run creates a bare draft run of course
func Run(t testing.TB, db *gorm.DB, course *model.Course, key string) *model.CourseRun {
	t.Helper()
	r := &model.CourseRun{PartnerID: course.PartnerID, CourseID: course.ID, Key: key}
	if err := db.Create(r).Error; err != nil {
		t.Fatalf("failed to create course run: %v", err)
	}
	return r
}
