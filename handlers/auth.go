package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/gogotex/backend/auth-service/internal/auth"
	"github.com/gogotex/gogotex/backend/auth-service/internal/autherr"
	"github.com/gogotex/gogotex/backend/auth-service/internal/models"
	"github.com/gogotex/gogotex/backend/auth-service/internal/providers"
	"github.com/gogotex/gogotex/backend/auth-service/pkg/logger"
	"github.com/gogotex/gogotex/backend/auth-service/pkg/middleware"
)

// AuthService is the subset of auth.Service the handlers call.
type AuthService interface {
	Login(ctx context.Context, provider string, creds providers.Credentials) (*auth.Result, error)
	Register(ctx context.Context, provider string, data providers.Credentials) (*auth.Result, error)
	ValidateToken(ctx context.Context, token, provider string) (*auth.Validation, error)
	Logout(ctx context.Context, token, provider string) error
	RefreshTokens(ctx context.Context, refreshToken string) (*auth.RefreshResult, error)
	Providers() []string
}

// AuthHandler holds dependencies
type AuthHandler struct {
	svc AuthService
}

func NewAuthHandler(svc AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// Register routes under /auth
// Register adds the /auth routes. mw runs before every handler; these
// requests are anonymous, so limiters in mw key by client IP.
func (h *AuthHandler) Register(rg *gin.RouterGroup, mw ...gin.HandlerFunc) {
	a := rg.Group("/auth", mw...)
	a.GET("/providers", h.ListProviders)
	a.POST("/validate", h.Validate)
	a.POST("/refresh", h.Refresh)
	a.POST("/:provider/login", h.Login)
	a.POST("/:provider/register", h.SignUp)
	a.POST("/:provider/logout", h.Logout)
}

// RegisterMe adds GET /api/v1/me behind the bearer middleware. mw runs after
// authentication so limiters see the user id.
func (h *AuthHandler) RegisterMe(rg *gin.RouterGroup, mw ...gin.HandlerFunc) {
	chain := append([]gin.HandlerFunc{middleware.AuthMiddleware(h.svc)}, mw...)
	rg.GET("/api/v1/me", append(chain, h.Me)...)
}

type sessionResponse struct {
	Success bool         `json:"success"`
	User    *models.User `json:"user"`
	auth.TokenInfo
	Provider string `json:"provider"`
}

func (h *AuthHandler) ListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "providers": h.svc.Providers()})
}

// Login passes the JSON body through as provider credentials: {email, password}
// for local, {token} for an external provider.
func (h *AuthHandler) Login(c *gin.Context) {
	creds, ok := bindCredentials(c)
	if !ok {
		return
	}
	res, err := h.svc.Login(c.Request.Context(), c.Param("provider"), creds)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse{Success: true, User: res.User, TokenInfo: res.TokenInfo, Provider: res.Provider})
}

func (h *AuthHandler) SignUp(c *gin.Context) {
	data, ok := bindCredentials(c)
	if !ok {
		return
	}
	res, err := h.svc.Register(c.Request.Context(), c.Param("provider"), data)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessionResponse{Success: true, User: res.User, TokenInfo: res.TokenInfo, Provider: res.Provider})
}

// Validate accepts {token, provider?}; the token may also come as a bearer header.
func (h *AuthHandler) Validate(c *gin.Context) {
	var req struct {
		Token    string `json:"token"`
		Provider string `json:"provider"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			renderError(c, autherr.InvalidInput("malformed request body"))
			return
		}
	}
	token := tokenFrom(c, req.Token)
	if token == "" {
		renderError(c, autherr.InvalidInput("token is required"))
		return
	}
	v, err := h.svc.ValidateToken(c.Request.Context(), token, req.Provider)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "userId": v.UserID, "provider": v.Provider, "user": v.User})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if c.Request.ContentLength != 0 {
		_ = c.ShouldBindJSON(&req)
	}
	token := tokenFrom(c, req.Token)
	if token == "" {
		renderError(c, autherr.InvalidInput("token is required"))
		return
	}
	if err := h.svc.Logout(c.Request.Context(), token, c.Param("provider")); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Refresh accepts a refresh token and returns a new pair
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, autherr.InvalidInput("refreshToken is required"))
		return
	}
	res, err := h.svc.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":         res.User,
		"accessToken":  res.AccessToken,
		"refreshToken": res.RefreshToken,
		"expiresAt":    res.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Me returns the user resolved by the bearer middleware.
func (h *AuthHandler) Me(c *gin.Context) {
	v, ok := c.Get(middleware.ValidationKey)
	if !ok {
		renderError(c, autherr.Unauthorized(nil))
		return
	}
	val := v.(*auth.Validation)
	c.JSON(http.StatusOK, gin.H{"success": true, "user": val.User, "provider": val.Provider})
}

func bindCredentials(c *gin.Context) (providers.Credentials, bool) {
	creds := providers.Credentials{}
	if err := c.ShouldBindJSON(&creds); err != nil {
		renderError(c, autherr.InvalidInput("request body must be a JSON object of strings"))
		return nil, false
	}
	return creds, true
}

func tokenFrom(c *gin.Context, body string) string {
	if body = strings.TrimSpace(body); body != "" {
		return body
	}
	tok, _ := middleware.BearerToken(c.GetHeader("Authorization"))
	return tok
}

// renderError writes the taxonomy error as {success:false, error, message}.
func renderError(c *gin.Context, err error) {
	var e *autherr.Error
	if !errors.As(err, &e) {
		e = autherr.Service("internal failure", err)
	}
	if e.Code == autherr.CodeServiceError {
		logger.FromContext(c.Request.Context()).Errorw("request failed", "path", c.FullPath(), "err", err)
	}
	c.AbortWithStatusJSON(e.Status(), gin.H{"success": false, "error": e.Code, "message": e.Message})
}
