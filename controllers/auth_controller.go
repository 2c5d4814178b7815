package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"investsim_backend/middleware"
	"investsim_backend/models"
)

const tokenTTL = 24 * time.Hour

// AuthController handles operator login for the admin endpoints.
type AuthController struct {
	db *gorm.DB
}

// NewAuthController creates the controller.
func NewAuthController(db *gorm.DB) *AuthController {
	return &AuthController{db: db}
}

// Login handles POST /api/admin/login
func (ac *AuthController) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "username and password are required"})
		return
	}

	ip := c.ClientIP()

	var user models.AdminUser
	if err := ac.db.Where("username = ? AND is_active = ?", req.Username, true).First(&user).Error; err != nil {
		middleware.RecordLoginAttempt(ip, false)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Invalid credentials"})
		return
	}

	if !user.CheckPassword(req.Password) {
		middleware.RecordLoginAttempt(ip, false)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Invalid credentials"})
		return
	}

	token, err := middleware.GenerateToken(user.Username, user.Role, tokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "Could not issue token"})
		return
	}

	middleware.RecordLoginAttempt(ip, true)

	now := time.Now()
	ac.db.Model(&user).Update("last_login_at", now)

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(tokenTTL.Seconds()),
		"role":       user.Role,
	})
}
