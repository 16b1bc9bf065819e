package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/miroshar-success/book-adapter-epub/internal/identity"
)

// SessionController signs the local user in with a bearer token.
type SessionController struct {
	sessions SessionManager
}

func NewSessionController(sessions SessionManager) *SessionController {
	return &SessionController{sessions: sessions}
}

type signInRequest struct {
	Token string `json:"token" binding:"required"`
}

// SessionResponse describes the current session.
type SessionResponse struct {
	SignedIn bool   `json:"signed_in"`
	UserID   string `json:"user_id,omitempty"`
}

// SignIn handles POST /api/session
func (sc *SessionController) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "token is required")
		return
	}

	userID, err := sc.sessions.SignIn(req.Token)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token", Code: "not_authenticated"})
			return
		}
		respondInternalError(c, err, "sign in")
		return
	}

	log.Printf("[SESSION] Signed in as %s", userID)
	c.JSON(http.StatusOK, SessionResponse{SignedIn: true, UserID: userID})
}

// SignOut handles DELETE /api/session
func (sc *SessionController) SignOut(c *gin.Context) {
	sc.sessions.SignOut()
	log.Printf("[SESSION] Signed out")
	c.JSON(http.StatusOK, SessionResponse{})
}

// Current handles GET /api/session
func (sc *SessionController) Current(c *gin.Context) {
	userID, ok := sc.sessions.CurrentUserID()
	c.JSON(http.StatusOK, SessionResponse{SignedIn: ok, UserID: userID})
}
