package saml

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// Parser failure kinds. Callers branch on these with errors.Is to decide
// between user-visible redirects and hard request failures.
var (
	// ErrMalformedAssertion covers transport decoding and structural XML
	// failures: the payload is not a well-formed SAML response carrying
	// an assertion with a subject.
	ErrMalformedAssertion = errors.New("malformed assertion")

	// ErrMissingIdentity means the assertion was structurally sound but
	// carried no usable subject identifier.
	ErrMissingIdentity = errors.New("assertion carries no usable identity")
)

// emailAttribute is the attribute name the IdP is configured to release
// the subject's email address under.
const emailAttribute = "email"

// Identity is the transient result of a successful authentication event.
// Persisting it is the user store's concern, not this package's.
type Identity struct {
	SubjectID string
	Email     string
}

// Parser extracts an Identity from a base64-encoded SAML response.
// With a SignatureValidator attached, the response's XML signature is
// verified against the trusted IdP certificate before any claim is
// extracted; without one, parsing is structural only.
type Parser struct {
	validator *SignatureValidator
}

// NewParser returns a structural-only parser.
func NewParser() *Parser {
	return &Parser{}
}

// NewVerifyingParser returns a parser that rejects responses whose
// signature does not verify against the given validator.
func NewVerifyingParser(v *SignatureValidator) *Parser {
	return &Parser{validator: v}
}

// Parse decodes the transport encoding, verifies the signature when a
// validator is configured, and extracts the subject identifier and email.
func (p *Parser) Parse(rawResponse string) (Identity, error) {
	xmlData, err := decodeTransport(rawResponse)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformedAssertion, err)
	}

	var response Response
	if err := xml.Unmarshal(xmlData, &response); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformedAssertion, err)
	}

	if len(response.Assertions) == 0 {
		return Identity{}, fmt.Errorf("%w: no assertion in response", ErrMalformedAssertion)
	}
	assertion := response.Assertions[0]

	if p.validator != nil {
		if err := p.validator.Verify(xmlData, &response); err != nil {
			return Identity{}, err
		}
	}

	if assertion.Subject == nil {
		return Identity{}, fmt.Errorf("%w: no subject in assertion", ErrMalformedAssertion)
	}
	if assertion.Subject.NameID == nil {
		return Identity{}, fmt.Errorf("%w: no name identifier in subject", ErrMalformedAssertion)
	}

	subjectID := strings.TrimSpace(assertion.Subject.NameID.Value)

	email := firstAttributeValue(assertion.AttributeStatement, emailAttribute)
	if email == "" && strings.Contains(subjectID, "@") {
		// Common IdP configuration: the NameID itself is the email.
		email = subjectID
	}

	if subjectID == "" {
		return Identity{}, ErrMissingIdentity
	}

	return Identity{SubjectID: subjectID, Email: email}, nil
}

// decodeTransport undoes the base64 transport encoding. Form transport
// may have turned '+' into spaces; some IdPs omit padding.
func decodeTransport(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(raw, " ", "+"))
	if trimmed == "" {
		return nil, errors.New("empty response payload")
	}
	if data, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return data, nil
	}
	data, err := base64.RawStdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("base64 decode failed: %v", err)
	}
	return data, nil
}

func firstAttributeValue(stmt *AttributeStatement, name string) string {
	if stmt == nil {
		return ""
	}
	for _, attr := range stmt.Attributes {
		if attr.Name != name && attr.FriendlyName != name {
			continue
		}
		for _, v := range attr.AttributeValues {
			if value := strings.TrimSpace(v.Value); value != "" {
				return value
			}
		}
	}
	return ""
}
