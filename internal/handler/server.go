package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xedro98/Glacier/internal/model"
	"github.com/xedro98/Glacier/internal/registry"
)

// ServerHandler manages the registry of target hosts
type ServerHandler struct {
	reg *registry.Registry
}

// NewServerHandler creates a new ServerHandler
func NewServerHandler(reg *registry.Registry) *ServerHandler {
	return &ServerHandler{reg: reg}
}

// List returns all registered servers
func (h *ServerHandler) List(c *gin.Context) {
	servers := h.reg.List()
	c.JSON(http.StatusOK, gin.H{"servers": servers, "total": len(servers)})
}

// Add registers a managed host
func (h *ServerHandler) Add(c *gin.Context) {
	var server model.Server
	if err := c.ShouldBindJSON(&server); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.reg.Add(server); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, server)
}

// Remove deletes a host that no site references anymore
func (h *ServerHandler) Remove(c *gin.Context) {
	if err := h.reg.Remove(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Server removed"})
}

// Check probes a server's reachability
func (h *ServerHandler) Check(c *gin.Context) {
	server, err := h.reg.Resolve(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.reg.CheckReachable(c.Request.Context(), server); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server": server.ID, "reachable": true})
}
