package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieCodec_RoundTrip(t *testing.T) {
	codec, err := NewCookieCodec(testSecret, cookieName, true, 8*time.Hour)
	require.NoError(t, err)

	value, err := codec.Encode("session-id-1")
	require.NoError(t, err)

	id, err := codec.Decode(value)
	require.NoError(t, err)
	assert.Equal(t, "session-id-1", id)
}

func TestCookieCodec_RejectsForeignValues(t *testing.T) {
	codec, err := NewCookieCodec(testSecret, cookieName, true, time.Hour)
	require.NoError(t, err)
	other, err := NewCookieCodec("fedcba9876543210fedcba9876543210", cookieName, true, time.Hour)
	require.NoError(t, err)

	foreign, err := other.Encode("session-id-1")
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, cookieClaims{SessionID: "session-id-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	// Signed with the raw secret instead of the derived key.
	rawKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cookieClaims{SessionID: "session-id-1"}).
		SignedString([]byte(testSecret))
	require.NoError(t, err)

	empty, err := codec.Encode("")
	require.NoError(t, err)

	for name, value := range map[string]string{
		"other key":   foreign,
		"alg none":    unsigned,
		"raw secret":  rawKey,
		"garbage":     "not-a-token",
		"empty id":    empty,
		"bare sid":    "session-id-1",
		"empty value": "",
	} {
		_, err := codec.Decode(value)
		assert.ErrorIs(t, err, errInvalidCookie, name)
	}
}

func TestCookieCodec_Attributes(t *testing.T) {
	codec, err := NewCookieCodec(testSecret, cookieName, true, 8*time.Hour)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, codec.Write(w, "session-id-1"))
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)

	c := cookies[0]
	assert.Equal(t, cookieName, c.Name)
	assert.Equal(t, "/", c.Path)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.Equal(t, int((8 * time.Hour).Seconds()), c.MaxAge)

	w = httptest.NewRecorder()
	codec.Clear(w)
	cleared := w.Result().Cookies()[0]
	assert.Empty(t, cleared.Value)
	assert.True(t, cleared.MaxAge < 0)
}
