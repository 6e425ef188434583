package identity

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"timesheet-auth-svc/src/internal/config"
	"timesheet-auth-svc/src/internal/models"

	"github.com/beevik/etree"
	xrv "github.com/mattermost/xml-roundtrip-validator"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/sirupsen/logrus"
)

const (
	nsAssertion = "urn:oasis:names:tc:SAML:2.0:assertion"
	nsProtocol  = "urn:oasis:names:tc:SAML:2.0:protocol"
	nsDSig      = "http://www.w3.org/2000/09/xmldsig#"
)

var (
	emailAttributes = []string{
		"email",
		"mail",
		"emailaddress",
		"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress",
		"urn:oid:0.9.2342.19200300.100.1.3",
	}
	givenNameAttributes = []string{
		"firstname",
		"givenname",
		"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/givenname",
		"urn:oid:2.5.4.42",
	}
	familyNameAttributes = []string{
		"lastname",
		"surname",
		"sn",
		"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/surname",
		"urn:oid:2.5.4.4",
	}
)

// Validator checks signed SAML assertions against a trusted IdP certificate.
type Validator struct {
	dsig      *dsig.ValidationContext
	idpIssuer string
	audience  string
	recipient string
	skew      time.Duration
	now       func() time.Time
}

type Option func(*Validator)

func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

func NewValidator(cfg *config.SAMLSettings, opts ...Option) (*Validator, error) {
	certs, err := loadCertificates(cfg.Certificate)
	if err != nil {
		return nil, err
	}

	v := &Validator{
		dsig:      dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{Roots: certs}),
		idpIssuer: cfg.IdpIssuer,
		audience:  cfg.Audience,
		recipient: cfg.CallbackUrl,
		skew:      cfg.ClockSkew,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}

	logrus.WithFields(logrus.Fields{
		"certificates": len(certs),
		"idp_issuer":   v.idpIssuer,
		"audience":     v.audience,
		"clock_skew":   v.skew.String(),
	}).Info("SAML assertion validator initialized")
	return v, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", models.ErrInvalidAssertion, fmt.Sprintf(format, args...))
}

// Validate verifies a base64 encoded SAMLResponse (or bare Assertion) and returns the identity
// it asserts. Only the signed assertion content is read.
func (v *Validator) Validate(raw string) (*Identity, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, invalid("decoding base64: %v", err)
	}
	if err := xrv.Validate(bytes.NewReader(data)); err != nil {
		return nil, invalid("xml round trip: %v", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, invalid("parsing xml: %v", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, invalid("empty document")
	}

	unverified, err := findAssertion(root)
	if err != nil {
		return nil, err
	}
	if child(unverified, nsDSig, "Signature") == nil {
		return nil, invalid("assertion is not signed")
	}

	assertion, err := v.dsig.Validate(detach(unverified))
	if err != nil {
		return nil, invalid("signature: %v", err)
	}

	if err := v.checkIssuer(assertion); err != nil {
		return nil, err
	}
	if err := v.checkConditions(assertion); err != nil {
		return nil, err
	}

	id, err := extract(assertion)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"subject": id.SubjectID,
		"email":   id.Email,
	}).Debug("SAML assertion validated")
	return id, nil
}

func findAssertion(root *etree.Element) (*etree.Element, error) {
	switch {
	case root.Tag == "Assertion" && root.NamespaceURI() == nsAssertion:
		return root, nil
	case root.Tag == "Response" && root.NamespaceURI() == nsProtocol:
		if status := child(root, nsProtocol, "Status"); status != nil {
			if code := child(status, nsProtocol, "StatusCode"); code != nil {
				if value := code.SelectAttrValue("Value", ""); !strings.HasSuffix(value, ":Success") {
					return nil, invalid("response status %s", value)
				}
			}
		}
		if child(root, nsAssertion, "EncryptedAssertion") != nil {
			return nil, invalid("encrypted assertions are not supported")
		}
		var found []*etree.Element
		for _, el := range root.ChildElements() {
			if el.Tag == "Assertion" && el.NamespaceURI() == nsAssertion {
				found = append(found, el)
			}
		}
		if len(found) != 1 {
			return nil, invalid("expected exactly one assertion, found %d", len(found))
		}
		return found[0], nil
	default:
		return nil, invalid("unexpected root element %s", root.Tag)
	}
}

func (v *Validator) checkIssuer(assertion *etree.Element) error {
	issuer := child(assertion, nsAssertion, "Issuer")
	if issuer == nil {
		return invalid("missing issuer")
	}
	if v.idpIssuer != "" && strings.TrimSpace(issuer.Text()) != v.idpIssuer {
		return invalid("untrusted issuer %q", issuer.Text())
	}
	return nil
}

// checkConditions enforces the validity window, audience and bearer confirmation. An assertion
// that carries no NotOnOrAfter bound at all is rejected.
func (v *Validator) checkConditions(assertion *etree.Element) error {
	now := v.now()
	bounded := false

	if conditions := child(assertion, nsAssertion, "Conditions"); conditions != nil {
		ok, err := v.checkWindow(conditions, now)
		if err != nil {
			return err
		}
		bounded = bounded || ok

		if v.audience != "" {
			if !hasAudience(conditions, v.audience) {
				return invalid("audience does not include %s", v.audience)
			}
		}
	} else if v.audience != "" {
		return invalid("missing audience restriction")
	}

	subject := child(assertion, nsAssertion, "Subject")
	if subject == nil {
		return invalid("missing subject")
	}
	for _, confirmation := range children(subject, nsAssertion, "SubjectConfirmation") {
		data := child(confirmation, nsAssertion, "SubjectConfirmationData")
		if data == nil {
			continue
		}
		ok, err := v.checkWindow(data, now)
		if err != nil {
			return err
		}
		bounded = bounded || ok

		if recipient := data.SelectAttrValue("Recipient", ""); recipient != "" && v.recipient != "" && recipient != v.recipient {
			return invalid("recipient %s does not match %s", recipient, v.recipient)
		}
	}

	if !bounded {
		return invalid("assertion has no expiry")
	}
	return nil
}

// checkWindow reports whether el carried a NotOnOrAfter bound.
func (v *Validator) checkWindow(el *etree.Element, now time.Time) (bool, error) {
	if raw := el.SelectAttrValue("NotBefore", ""); raw != "" {
		notBefore, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return false, invalid("parsing NotBefore: %v", err)
		}
		if now.Add(v.skew).Before(notBefore) {
			return false, invalid("not valid before %s", raw)
		}
	}

	raw := el.SelectAttrValue("NotOnOrAfter", "")
	if raw == "" {
		return false, nil
	}
	notOnOrAfter, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false, invalid("parsing NotOnOrAfter: %v", err)
	}
	if !now.Add(-v.skew).Before(notOnOrAfter) {
		return false, invalid("expired at %s", raw)
	}
	return true, nil
}

func hasAudience(conditions *etree.Element, audience string) bool {
	for _, restriction := range children(conditions, nsAssertion, "AudienceRestriction") {
		for _, a := range children(restriction, nsAssertion, "Audience") {
			if strings.TrimSpace(a.Text()) == audience {
				return true
			}
		}
	}
	return false
}

func extract(assertion *etree.Element) (*Identity, error) {
	var nameID string
	if subject := child(assertion, nsAssertion, "Subject"); subject != nil {
		if el := child(subject, nsAssertion, "NameID"); el != nil {
			nameID = strings.TrimSpace(el.Text())
		}
	}

	attrs := attributes(assertion)

	email := first(attrs, emailAttributes)
	if email == "" && strings.Contains(nameID, "@") {
		email = nameID
	}
	email = strings.ToLower(email)

	subjectID := nameID
	if subjectID == "" {
		subjectID = email
	}
	if subjectID == "" {
		return nil, invalid("missing subject identifier")
	}
	if email == "" {
		return nil, invalid("missing email")
	}

	id := &Identity{
		SubjectID:  subjectID,
		Email:      email,
		GivenName:  first(attrs, givenNameAttributes),
		FamilyName: first(attrs, familyNameAttributes),
	}
	if id.GivenName == "" && id.FamilyName == "" {
		id.GivenName, id.FamilyName = namesFromEmail(email)
	}
	return id, nil
}

// attributes maps lower-cased attribute names to their first non-empty value.
func attributes(assertion *etree.Element) map[string]string {
	out := make(map[string]string)
	for _, statement := range children(assertion, nsAssertion, "AttributeStatement") {
		for _, attr := range children(statement, nsAssertion, "Attribute") {
			name := strings.ToLower(attr.SelectAttrValue("Name", ""))
			if name == "" || out[name] != "" {
				continue
			}
			for _, value := range children(attr, nsAssertion, "AttributeValue") {
				if text := strings.TrimSpace(value.Text()); text != "" {
					out[name] = text
					break
				}
			}
		}
	}
	return out
}

func first(attrs map[string]string, names []string) string {
	for _, name := range names {
		if v := attrs[name]; v != "" {
			return v
		}
	}
	return ""
}

func child(el *etree.Element, space, tag string) *etree.Element {
	for _, c := range el.ChildElements() {
		if c.Tag == tag && c.NamespaceURI() == space {
			return c
		}
	}
	return nil
}

func children(el *etree.Element, space, tag string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag == tag && c.NamespaceURI() == space {
			out = append(out, c)
		}
	}
	return out
}

// detach copies el out of its document, carrying the namespace declarations it inherits.
func detach(el *etree.Element) *etree.Element {
	copied := el.Copy()

	declared := make(map[string]bool)
	for _, a := range copied.Attr {
		if prefix, ok := nsPrefix(a); ok {
			declared[prefix] = true
		}
	}
	for p := el.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			prefix, ok := nsPrefix(a)
			if !ok || declared[prefix] {
				continue
			}
			copied.CreateAttr(a.FullKey(), a.Value)
			declared[prefix] = true
		}
	}
	return copied
}

func nsPrefix(a etree.Attr) (string, bool) {
	switch {
	case a.Space == "xmlns":
		return a.Key, true
	case a.Space == "" && a.Key == "xmlns":
		return "", true
	default:
		return "", false
	}
}
