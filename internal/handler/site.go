package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xedro98/Glacier/internal/engine"
)

// SiteHandler exposes the site lifecycle operations
type SiteHandler struct {
	eng *engine.Engine
}

// NewSiteHandler creates a new SiteHandler
func NewSiteHandler(eng *engine.Engine) *SiteHandler {
	return &SiteHandler{eng: eng}
}

// List returns all sites
func (h *SiteHandler) List(c *gin.Context) {
	sites := h.eng.Sites()
	c.JSON(http.StatusOK, gin.H{"sites": sites, "total": len(sites)})
}

// Get returns a single site
func (h *SiteHandler) Get(c *gin.Context) {
	site, err := h.eng.Site(c.Param("domain"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, site)
}

// Create provisions a new site
func (h *SiteHandler) Create(c *gin.Context) {
	var req engine.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	site, err := h.eng.Create(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, site)
}

// Rebuild re-converges a site onto its declared configuration
func (h *SiteHandler) Rebuild(c *gin.Context) {
	var req struct {
		GitSource string `json:"git_source"`
		ForceSSL  bool   `json:"force_ssl"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	site, err := h.eng.Rebuild(c.Request.Context(), c.Param("domain"), req.GitSource, req.ForceSSL)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, site)
}

// DeletionToken issues a confirmation token for deleting a site
func (h *SiteHandler) DeletionToken(c *gin.Context) {
	token, err := h.eng.DeletionToken(c.Param("domain"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Delete tears a site down
func (h *SiteHandler) Delete(c *gin.Context) {
	opts := engine.DeleteOptions{
		Force:        c.Query("force") == "true",
		Token:        c.Query("token"),
		RevokeCert:   c.Query("revoke_cert") == "true",
		PurgeVolumes: c.Query("purge_volumes") == "true",
	}

	if err := h.eng.Delete(c.Request.Context(), c.Param("domain"), opts); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Site deleted"})
}

// Stage creates a staging copy of a production site
func (h *SiteHandler) Stage(c *gin.Context) {
	site, err := h.eng.Stage(c.Request.Context(), c.Param("domain"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, site)
}

// Promote swaps a staging site into its linked production site
func (h *SiteHandler) Promote(c *gin.Context) {
	site, err := h.eng.Promote(c.Request.Context(), c.Param("domain"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, site)
}

// InstallExtension installs a PHP extension into a site's runtime
func (h *SiteHandler) InstallExtension(c *gin.Context) {
	var req struct {
		Extension string `json:"extension" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.eng.InstallPHPExtension(c.Request.Context(), c.Param("domain"), req.Extension); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Extension installed"})
}
