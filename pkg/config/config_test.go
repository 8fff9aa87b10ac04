package config

import (
	"testing"
	"time"

	"gorm.io/gorm/logger"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INGEST_PAGE_SIZE", "")
	t.Setenv("THROTTLE_DEFAULT_RATE", "100/hour")

	cfg, err := Load("catalog-test")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Ingest.PageSize != 50 {
		t.Errorf("expected default page size 50, got %d", cfg.Ingest.PageSize)
	}
	if cfg.Throttle.DefaultRate != "100/hour" {
		t.Errorf("expected default rate 100/hour, got %q", cfg.Throttle.DefaultRate)
	}
	if cfg.Metrics.Prefix != "catalog-test" {
		t.Errorf("expected metrics prefix to default to service name, got %q", cfg.Metrics.Prefix)
	}
}

func TestLoadRejectsNonPositivePageSize(t *testing.T) {
	t.Setenv("INGEST_PAGE_SIZE", "0")
	if _, err := Load("catalog-test"); err == nil {
		t.Fatal("expected error for zero page size")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_LIST", " http://a:9200, ,http://b:9200 ")
	got := getEnvAsList("TEST_LIST", nil)
	if len(got) != 2 || got[0] != "http://a:9200" || got[1] != "http://b:9200" {
		t.Errorf("getEnvAsList() = %v", got)
	}

	t.Setenv("TEST_MAP", "courses=10/minute, search = 5/second,broken")
	m := getEnvAsMap("TEST_MAP")
	if m["courses"] != "10/minute" || m["search"] != "5/second" || len(m) != 2 {
		t.Errorf("getEnvAsMap() = %v", m)
	}

	t.Setenv("TEST_DURATION", "nonsense")
	if d := getEnvAsDuration("TEST_DURATION", time.Minute); d != time.Minute {
		t.Errorf("expected fallback duration, got %v", d)
	}

	t.Setenv("TEST_BOOL", "true")
	if !getEnvAsBool("TEST_BOOL", false) {
		t.Error("expected true")
	}

	t.Setenv("TEST_LEVEL", "silent")
	if lvl := getEnvAsLogLevel("TEST_LEVEL", logger.Info); lvl != logger.Silent {
		t.Errorf("expected silent, got %v", lvl)
	}
}

func TestGetDSN(t *testing.T) {
	c := DBConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "catalog", SSLMode: "disable"}
	want := "host=db port=5432 user=u password=p dbname=catalog sslmode=disable"
	if got := c.GetDSN(); got != want {
		t.Errorf("GetDSN() = %q, want %q", got, want)
	}
}
