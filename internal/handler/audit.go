package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xedro98/Glacier/internal/backup"
)

// AuditHandler exposes the operation audit log
type AuditHandler struct {
	catalog *backup.Catalog
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(catalog *backup.Catalog) *AuditHandler {
	return &AuditHandler{catalog: catalog}
}

// Recent returns the latest audit entries
func (h *AuditHandler) Recent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.catalog.RecentAudit(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": len(entries)})
}
