package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xedro98/Glacier/internal/engine"
)

// BackupHandler exposes backup and restore endpoints
type BackupHandler struct {
	eng *engine.Engine
}

// NewBackupHandler creates a new BackupHandler
func NewBackupHandler(eng *engine.Engine) *BackupHandler {
	return &BackupHandler{eng: eng}
}

// List returns a site's backup catalog
func (h *BackupHandler) List(c *gin.Context) {
	backups, err := h.eng.Backups(c.Param("domain"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": backups, "total": len(backups)})
}

// Create snapshots a site's files and database
func (h *BackupHandler) Create(c *gin.Context) {
	rec, err := h.eng.Backup(c.Request.Context(), c.Param("domain"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// Restore unpacks a backup over the live site
func (h *BackupHandler) Restore(c *gin.Context) {
	var req struct {
		BackupID string `json:"backup_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.eng.Restore(c.Request.Context(), c.Param("domain"), req.BackupID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Backup restored"})
}
