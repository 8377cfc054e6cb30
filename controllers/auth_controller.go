package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/poolchecker/middleware"
	"github.com/cppla/poolchecker/models"
	"github.com/cppla/poolchecker/services"
	"github.com/cppla/poolchecker/utils"
)

// AuthController handles login, token refresh and logout.
type AuthController struct {
	users     *services.UserService
	tokens    *utils.TokenManager
	blacklist *utils.TokenBlacklist
}

// NewAuthController creates a new AuthController instance.
func NewAuthController(users *services.UserService, tokens *utils.TokenManager, blacklist *utils.TokenBlacklist) *AuthController {
	return &AuthController{users: users, tokens: tokens, blacklist: blacklist}
}

// Login verifies credentials (username or email) sent as JSON or form and issues a token pair.
func (a *AuthController) Login(ctx *gin.Context) {
	type request struct {
		Username string `json:"username" form:"username" binding:"required"`
		Password string `json:"password" form:"password" binding:"required"`
	}

	var req request
	if err := ctx.ShouldBind(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40005, "invalid request payload")
		return
	}

	user, err := a.users.Authenticate(ctx.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		utils.Error(ctx, http.StatusUnauthorized, 40107, "incorrect username or password")
		return
	case errors.Is(err, services.ErrInactiveUser):
		utils.Error(ctx, http.StatusBadRequest, 40006, "inactive user")
		return
	case err != nil:
		respondError(ctx, err, 50002, "failed to authenticate")
		return
	}

	a.issueTokens(ctx, user)
}

// Refresh exchanges a refresh token for a new token pair.
func (a *AuthController) Refresh(ctx *gin.Context) {
	type request struct {
		RefreshToken string `json:"refresh_token" form:"refresh_token" binding:"required"`
	}
	var req request
	if err := ctx.ShouldBind(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40005, "invalid request payload")
		return
	}

	if a.blacklist.Contains(ctx.Request.Context(), req.RefreshToken) {
		utils.Error(ctx, http.StatusUnauthorized, 40104, "token revoked")
		return
	}
	claims, err := a.tokens.ParseToken(req.RefreshToken, utils.TokenTypeRefresh)
	if err != nil {
		utils.Error(ctx, http.StatusUnauthorized, 40105, "invalid refresh token")
		return
	}

	user, err := a.users.GetByID(ctx.Request.Context(), claims.UserID)
	if err != nil {
		respondError(ctx, err, 50003, "failed to load user")
		return
	}
	if user == nil || !user.IsActive {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "user not found or inactive")
		return
	}

	a.issueTokens(ctx, user)
}

func (a *AuthController) issueTokens(ctx *gin.Context, user *models.User) {
	access, err := a.tokens.GenerateAccessToken(user.ID, user.Username)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50004, "failed to generate token")
		return
	}
	refresh, err := a.tokens.GenerateRefreshToken(user.ID, user.Username)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50004, "failed to generate token")
		return
	}

	utils.Success(ctx, gin.H{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_in":    int(a.tokens.AccessTTL().Seconds()),
		"user":          user,
	})
}

// Me returns the current authenticated user's information.
func (a *AuthController) Me(ctx *gin.Context) {
	user := middleware.CurrentUser(ctx)
	if user == nil {
		utils.Error(ctx, http.StatusUnauthorized, 40108, "unauthorized")
		return
	}
	utils.Success(ctx, user)
}

// Logout invalidates the access token by blacklisting it until expiration.
func (a *AuthController) Logout(ctx *gin.Context) {
	token := ctx.GetString(middleware.ContextTokenKey)
	claimsVal, _ := ctx.Get(middleware.ContextClaimsKey)
	claims, ok := claimsVal.(*utils.Claims)
	if token == "" || !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40108, "unauthorized")
		return
	}

	expiresAt := time.Now().Add(a.tokens.AccessTTL())
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	a.blacklist.Add(ctx.Request.Context(), token, expiresAt)
	utils.Success(ctx, gin.H{"message": "logged out"})
}
