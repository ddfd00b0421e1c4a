package backup

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/xedro98/Glacier/internal/model"
)

// Record is one backup in the catalog. The PHP and database engine markers
// are captured at backup time and validated on restore: a backup taken from a
// different runtime never silently restores onto an incompatible stack.
type Record struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	Domain   string `gorm:"index;not null;size:255" json:"domain"`
	ServerID string `gorm:"not null;size:64" json:"server_id"`

	PHPVersion string `gorm:"not null;size:8" json:"php_version"`
	DBEngine   string `gorm:"size:32" json:"db_engine"` // empty when the site has no database

	Path      string    `gorm:"not null" json:"path"` // archive path on the site's host
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditEntry is one lifecycle operation outcome, kept for operator review.
type AuditEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Operation string    `gorm:"not null;size:32" json:"operation"`
	Domain    string    `gorm:"index;size:255" json:"domain"`
	Outcome   string    `gorm:"not null;size:16" json:"outcome"` // "ok" or "error"
	Detail    string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Catalog persists backup records and the operation audit log.
type Catalog struct {
	db *gorm.DB
}

// NewCatalog creates a Catalog on the given database.
func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

// NewID generates a backup id.
func (c *Catalog) NewID() string { return uuid.NewString() }

// Add stores a new backup record.
func (c *Catalog) Add(rec Record) error {
	if err := c.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("record backup: %w", err)
	}
	return nil
}

// Get returns a backup by id.
func (c *Catalog) Get(id string) (Record, error) {
	var rec Record
	err := c.db.First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, fmt.Errorf("%w: %s", model.ErrUnknownBackup, id)
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns all backups for a domain, newest first.
func (c *Catalog) List(domain string) ([]Record, error) {
	var recs []Record
	err := c.db.Where("domain = ?", domain).Order("created_at desc").Find(&recs).Error
	return recs, err
}

// DeleteFor removes all backup records for a domain. Archives on disk are the
// engine's concern.
func (c *Catalog) DeleteFor(domain string) error {
	return c.db.Where("domain = ?", domain).Delete(&Record{}).Error
}

// Audit appends an operation outcome to the audit log. Audit failures are
// swallowed: the log must never fail a lifecycle operation.
func (c *Catalog) Audit(operation, domain, outcome, detail string) {
	c.db.Create(&AuditEntry{
		Operation: operation,
		Domain:    domain,
		Outcome:   outcome,
		Detail:    detail,
	})
}

// RecentAudit returns the latest n audit entries.
func (c *Catalog) RecentAudit(n int) ([]AuditEntry, error) {
	if n <= 0 {
		n = 100
	}
	var entries []AuditEntry
	err := c.db.Order("id desc").Limit(n).Find(&entries).Error
	return entries, err
}
