package identity

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceProvider_AuthURL(t *testing.T) {
	f := newFixture(t)
	cfg := f.settings()
	cfg.EntryPoint = "https://idp.example.com/sso"
	cfg.Issuer = testAudience

	sp, err := NewServiceProvider(cfg)
	require.NoError(t, err)

	raw, err := sp.AuthURL("/timesheets")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", u.Host)
	assert.Equal(t, "/sso", u.Path)
	assert.NotEmpty(t, u.Query().Get("SAMLRequest"))
	assert.Equal(t, "/timesheets", u.Query().Get("RelayState"))
}
