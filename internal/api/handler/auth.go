package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"healthcb/backend/internal/config"
)

// AccessClaims scope a token to one identity in one consultation room.
type AccessClaims struct {
	Identity string `json:"identity"`
	Room     string `json:"room"`
	Seat     string `json:"seat,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(cfg config.AuthConfig) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		ttl:    cfg.AccessTokenTTL,
		now:    time.Now,
	}
}

// Issue generates a token for identity in room.
func (t *TokenIssuer) Issue(identity, room, seat string) (string, error) {
	now := t.now()
	claims := AccessClaims{
		Identity: identity,
		Room:     room,
		Seat:     seat,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Validate parses tokenString and checks signature, issuer and expiry.
func (t *TokenIssuer) Validate(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Identity == "" || claims.Room == "" {
		return nil, errors.New("token is missing identity or room")
	}
	return claims, nil
}

// bearerToken extracts the token from the Authorization header. Stream
// clients that cannot set headers may pass it as access_token instead.
func bearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return "", fmt.Errorf("authorization header must use the Bearer scheme")
		}
		return strings.TrimSpace(authHeader[len("Bearer "):]), nil
	}
	if token := c.Query("access_token"); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("authorization token missing")
}

// RequireToken rejects requests without a valid access token.
func (h *Handler) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := bearerToken(c)
		if err != nil {
			respondError(c, http.StatusUnauthorized, config.CodeAuthenticationFailed, err.Error())
			return
		}

		claims, err := h.Tokens.Validate(tokenString)
		if err != nil {
			h.Log.Debug("access token rejected", zap.Error(err))
			respondError(c, http.StatusUnauthorized, config.CodeAuthenticationFailed, "invalid or expired token")
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

type tokenRequest struct {
	Identity string `json:"identity" binding:"required"`
	Room     string `json:"room" binding:"required"`
}

// IssueToken exchanges {identity, room} for an access token scoped to the room.
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Metrics.Token("invalid")
		respondError(c, http.StatusBadRequest, 0, "identity and room are required")
		return
	}
	identity := strings.TrimSpace(req.Identity)
	roomID := strings.TrimSpace(req.Room)
	if identity == "" || roomID == "" {
		h.Metrics.Token("invalid")
		respondError(c, http.StatusBadRequest, 0, "identity and room are required")
		return
	}

	room, ok := h.activeRoom(c, roomID)
	if !ok {
		h.Metrics.Token("no_room")
		return
	}

	seat := room.SeatOf(identity)
	if seat == "" {
		h.Metrics.Token("denied")
		respondError(c, http.StatusForbidden, config.CodeNotAuthorized, "identity is not a participant of this consultation")
		return
	}

	if _, err := h.Storage.SaveIdentityIfNotExists(identity, config.ParticipantRoles[seat]); err != nil {
		h.Log.Error("failed to save identity", zap.String("identity", identity), zap.Error(err))
		respondError(c, http.StatusInternalServerError, 0, "failed to create token")
		return
	}

	token, err := h.Tokens.Issue(identity, room.RoomID, seat)
	if err != nil {
		h.Log.Error("failed to sign token", zap.Error(err))
		respondError(c, http.StatusInternalServerError, 0, "failed to create token")
		return
	}

	h.Metrics.Token("issued")
	h.Log.Info("access token issued", zap.String("identity", identity), zap.String("room_id", room.RoomID))

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"token":    token,
		"identity": identity,
		"room":     room.RoomID,
		"participants": gin.H{
			"patient": room.PatientID,
			"doctor":  room.DoctorID,
		},
	}})
}

// Me reports the identity bound to the caller's token.
func (h *Handler) Me(c *gin.Context) {
	claims := claimsFrom(c)
	c.JSON(http.StatusOK, gin.H{
		"identity": claims.Identity,
		"room":     claims.Room,
		"seat":     claims.Seat,
	})
}
