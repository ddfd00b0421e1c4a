package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xedro98/Glacier/internal/auth"
	"github.com/xedro98/Glacier/internal/config"
)

// AuthHandler manages operator login
type AuthHandler struct {
	cfg          *config.Config
	passwordHash string
}

// NewAuthHandler creates a new AuthHandler. The operator password from the
// environment is hashed once at startup.
func NewAuthHandler(cfg *config.Config) *AuthHandler {
	hash, err := auth.HashPassword(cfg.AdminPass)
	if err != nil {
		log.Fatalf("Failed to hash operator password: %v", err)
	}
	return &AuthHandler{cfg: cfg, passwordHash: hash}
}

// Login authenticates the operator and returns a JWT
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Username != h.cfg.AdminUser || !auth.CheckPassword(h.passwordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := auth.GenerateToken(req.Username, h.cfg.JWTSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "username": req.Username})
}

// Me returns the authenticated operator's identity
func (h *AuthHandler) Me(c *gin.Context) {
	username, _ := c.Get("username")
	c.JSON(http.StatusOK, gin.H{"username": username})
}
