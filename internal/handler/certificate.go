package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xedro98/Glacier/internal/engine"
)

// CertificateHandler exposes the DNS-challenge workflow
type CertificateHandler struct {
	eng *engine.Engine
}

// NewCertificateHandler creates a new CertificateHandler
func NewCertificateHandler(eng *engine.Engine) *CertificateHandler {
	return &CertificateHandler{eng: eng}
}

// Challenge returns the TXT record the operator must publish for a suspended
// wildcard issuance
func (h *CertificateHandler) Challenge(c *gin.Context) {
	info, err := h.eng.PendingChallenge(c.Param("domain"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Confirm resumes wildcard issuance once the TXT record is published
func (h *CertificateHandler) Confirm(c *gin.Context) {
	rec, err := h.eng.ConfirmDNSChallenge(c.Request.Context(), c.Param("domain"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Retry moves a failed certificate back into pending-validation
func (h *CertificateHandler) Retry(c *gin.Context) {
	rec, err := h.eng.RetryCertificate(c.Request.Context(), c.Param("domain"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
