package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/visionai-api/internal/auth"
	"github.com/Brownie44l1/visionai-api/internal/store"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	UserID    int       `json:"user_id"`
	Username  string    `json:"username"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u store.User) userResponse {
	return userResponse{
		UserID:    u.ID,
		Username:  u.Username,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt.UTC(),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h *Handler) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.auth.Register(c.Request.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, toUserResponse(u))
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrUserExists):
		respondError(c, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("registration failed", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to create user")
	}
}

func (h *Handler) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		unauthorized(c, auth.ErrInvalidCredentials.Error())
	default:
		h.log.Error("login failed", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to log in")
	}
}

// VerifyToken checks the token passed as ?token= and returns its user.
func (h *Handler) VerifyToken(c *gin.Context) {
	h.currentUser(c, c.Query("token"))
}

// Me returns the user behind the request's bearer token.
func (h *Handler) Me(c *gin.Context) {
	h.currentUser(c, requestToken(c))
}

func (h *Handler) currentUser(c *gin.Context, token string) {
	u, err := h.auth.CurrentUser(c.Request.Context(), token)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, toUserResponse(u))
	case errors.Is(err, auth.ErrInvalidToken):
		unauthorized(c, auth.ErrInvalidToken.Error())
	default:
		h.log.Error("token lookup failed", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to verify token")
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", "Bearer")
	respondError(c, http.StatusUnauthorized, msg)
}
