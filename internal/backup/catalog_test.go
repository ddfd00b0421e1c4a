package backup

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xedro98/Glacier/internal/model"
)

func setupTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&Record{}, &AuditEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewCatalog(db)
}

func TestCatalogAddGet(t *testing.T) {
	c := setupTestCatalog(t)

	rec := Record{
		ID:         c.NewID(),
		Domain:     "example.com",
		ServerID:   "local",
		PHPVersion: "8.2",
		DBEngine:   "mariadb:10.11",
		Path:       "/srv/glacier/backups/example.com/b1.tar.gz",
		SizeBytes:  4096,
		CreatedAt:  time.Now(),
	}
	if err := c.Add(rec); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := c.Get(rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Domain != "example.com" || got.PHPVersion != "8.2" || got.DBEngine != "mariadb:10.11" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestCatalogGetUnknown(t *testing.T) {
	c := setupTestCatalog(t)

	_, err := c.Get("no-such-backup")
	if !errors.Is(err, model.ErrUnknownBackup) {
		t.Fatalf("expected ErrUnknownBackup, got %v", err)
	}
}

func TestCatalogListNewestFirst(t *testing.T) {
	c := setupTestCatalog(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		rec := Record{
			ID:         c.NewID(),
			Domain:     "example.com",
			ServerID:   "local",
			PHPVersion: "8.2",
			Path:       "/tmp/b",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := c.Add(rec); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := c.Add(Record{ID: c.NewID(), Domain: "other.org", ServerID: "local", PHPVersion: "8.1", Path: "/tmp/o", CreatedAt: base}); err != nil {
		t.Fatalf("add other: %v", err)
	}

	recs, err := c.List("example.com")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].CreatedAt.After(recs[i-1].CreatedAt) {
			t.Fatalf("records not ordered newest first")
		}
	}
}

func TestCatalogDeleteFor(t *testing.T) {
	c := setupTestCatalog(t)

	if err := c.Add(Record{ID: c.NewID(), Domain: "example.com", ServerID: "local", PHPVersion: "8.2", Path: "/tmp/b", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.DeleteFor("example.com"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	recs, err := c.List("example.com")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records after delete, got %d", len(recs))
	}
}

func TestCatalogAudit(t *testing.T) {
	c := setupTestCatalog(t)

	c.Audit("create", "example.com", "ok", "")
	c.Audit("delete", "example.com", "error", "confirmation token expired")

	entries, err := c.RecentAudit(10)
	if err != nil {
		t.Fatalf("recent audit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Operation != "delete" || entries[0].Outcome != "error" {
		t.Fatalf("unexpected latest entry: %+v", entries[0])
	}
}
