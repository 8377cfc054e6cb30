package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/poolchecker/models"
	"github.com/cppla/poolchecker/services"
	"github.com/cppla/poolchecker/utils"
)

const (
	// ContextUserIDKey is the key used to store authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ContextUsernameKey stores the username inside Gin context.
	ContextUsernameKey = "username"
	// ContextUserKey stores the loaded *models.User.
	ContextUserKey = "user"
	// ContextTokenKey stores the raw bearer token for logout.
	ContextTokenKey = "token"
	// ContextClaimsKey stores the parsed *utils.Claims.
	ContextClaimsKey = "claims"
)

// Auth validates bearer tokens and loads the account behind them.
type Auth struct {
	tokens    *utils.TokenManager
	blacklist *utils.TokenBlacklist
	users     *services.UserService
}

// NewAuth creates the auth middleware set.
func NewAuth(tokens *utils.TokenManager, blacklist *utils.TokenBlacklist, users *services.UserService) *Auth {
	return &Auth{tokens: tokens, blacklist: blacklist, users: users}
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(ctx *gin.Context) (string, int, string) {
	authHeader := ctx.GetHeader("Authorization")
	if authHeader == "" {
		return "", 40101, "authorization header missing"
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", 40102, "invalid authorization header format"
	}
	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return "", 40103, "empty bearer token"
	}
	return tokenString, 0, ""
}

// AuthRequired ensures the request carries a valid access token of an active user.
func (a *Auth) AuthRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenString, code, msg := BearerToken(ctx)
		if code != 0 {
			utils.Error(ctx, http.StatusUnauthorized, code, msg)
			ctx.Abort()
			return
		}

		if a.blacklist.Contains(ctx.Request.Context(), tokenString) {
			utils.Error(ctx, http.StatusUnauthorized, 40104, "token revoked")
			ctx.Abort()
			return
		}

		claims, err := a.tokens.ParseToken(tokenString, utils.TokenTypeAccess)
		if err != nil {
			utils.Error(ctx, http.StatusUnauthorized, 40105, "could not validate credentials")
			ctx.Abort()
			return
		}

		user, err := a.users.GetByID(ctx.Request.Context(), claims.UserID)
		if err != nil {
			utils.Sugar.Errorf("load user %d: %v", claims.UserID, err)
			utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to load user")
			ctx.Abort()
			return
		}
		if user == nil {
			utils.Error(ctx, http.StatusUnauthorized, 40106, "user not found")
			ctx.Abort()
			return
		}
		if !user.IsActive {
			utils.Error(ctx, http.StatusBadRequest, 40002, "inactive user")
			ctx.Abort()
			return
		}

		ctx.Set(ContextUserIDKey, user.ID)
		ctx.Set(ContextUsernameKey, user.Username)
		ctx.Set(ContextUserKey, user)
		ctx.Set(ContextTokenKey, tokenString)
		ctx.Set(ContextClaimsKey, claims)
		ctx.Next()
	}
}

// AdminRequired must run after AuthRequired and allows superusers only.
func (a *Auth) AdminRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user := CurrentUser(ctx)
		if user == nil || !user.IsSuperuser {
			utils.Error(ctx, http.StatusForbidden, 40301, "not enough permissions")
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

// CurrentUser returns the authenticated user, or nil.
func CurrentUser(ctx *gin.Context) *models.User {
	v, ok := ctx.Get(ContextUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}
