package middleware

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const cookieKeyInfo = "timesheet-auth session cookie v1"

var errInvalidCookie = errors.New("invalid session cookie")

type cookieClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// CookieCodec signs session ids into the session cookie and verifies them on the way back.
type CookieCodec struct {
	key    []byte
	name   string
	secure bool
	maxAge time.Duration
}

// NewCookieCodec derives the signing key from secret with HKDF-SHA256.
func NewCookieCodec(secret, name string, secure bool, maxAge time.Duration) (*CookieCodec, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(cookieKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving cookie key: %w", err)
	}
	return &CookieCodec{
		key:    key,
		name:   name,
		secure: secure,
		maxAge: maxAge,
	}, nil
}

func (c *CookieCodec) Name() string {
	return c.name
}

func (c *CookieCodec) Encode(sessionID string) (string, error) {
	claims := cookieClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

// Decode returns the session id of a cookie value, or errInvalidCookie when the value was not
// produced by this codec.
func (c *CookieCodec) Decode(value string) (string, error) {
	claims := &cookieClaims{}
	token, err := jwt.ParseWithClaims(value, claims, func(*jwt.Token) (interface{}, error) {
		return c.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", errInvalidCookie
	}
	if claims.SessionID == "" {
		return "", errInvalidCookie
	}
	return claims.SessionID, nil
}

// Write sets the session cookie for sessionID.
func (c *CookieCodec) Write(w http.ResponseWriter, sessionID string) error {
	value, err := c.Encode(sessionID)
	if err != nil {
		return err
	}
	http.SetCookie(w, c.cookie(value, int(c.maxAge.Seconds())))
	return nil
}

func (c *CookieCodec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie("", -1))
}

func (c *CookieCodec) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	}
}
