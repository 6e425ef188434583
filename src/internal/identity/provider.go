package identity

import (
	"fmt"

	"timesheet-auth-svc/src/internal/config"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"
)

const nameIDFormatEmail = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"

// ServiceProvider builds the redirect that starts an SP-initiated login at the IdP.
type ServiceProvider struct {
	sp *saml2.SAMLServiceProvider
}

func NewServiceProvider(cfg *config.SAMLSettings) (*ServiceProvider, error) {
	certs, err := loadCertificates(cfg.Certificate)
	if err != nil {
		return nil, err
	}

	return &ServiceProvider{
		sp: &saml2.SAMLServiceProvider{
			IdentityProviderSSOURL:      cfg.EntryPoint,
			IdentityProviderIssuer:      cfg.IdpIssuer,
			ServiceProviderIssuer:       cfg.Issuer,
			AssertionConsumerServiceURL: cfg.CallbackUrl,
			AudienceURI:                 cfg.Audience,
			IDPCertificateStore:         &dsig.MemoryX509CertificateStore{Roots: certs},
			NameIdFormat:                nameIDFormatEmail,
		},
	}, nil
}

// AuthURL returns the IdP login URL carrying a deflated AuthnRequest and relayState.
func (p *ServiceProvider) AuthURL(relayState string) (string, error) {
	url, err := p.sp.BuildAuthURL(relayState)
	if err != nil {
		return "", fmt.Errorf("identity: building authn request: %w", err)
	}
	return url, nil
}
