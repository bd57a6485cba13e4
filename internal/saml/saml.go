// Package saml consumes SAML 2.0 responses on the service-provider side:
// structural extraction of the authenticated subject and its attributes,
// plus XML digital signature verification against the identity provider
// certificate.
package saml

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/xml"
	"time"
)

// SAML 2.0 XML namespaces.
const (
	NamespaceSAML  = "urn:oasis:names:tc:SAML:2.0:assertion"
	NamespaceSAMLp = "urn:oasis:names:tc:SAML:2.0:protocol"
	NamespaceDS    = "http://www.w3.org/2000/09/xmldsig#"
)

// NameID formats commonly emitted by enterprise IdPs.
const (
	NameIDFormatUnspecified = "urn:oasis:names:tc:SAML:1.1:nameid-format:unspecified"
	NameIDFormatEmail       = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"
)

// StatusSuccess is the status code value of a successful SAML response.
const StatusSuccess = "urn:oasis:names:tc:SAML:2.0:status:Success"

// SAMLTimeFormat is the xs:dateTime format required by SAML 2.0 Core
// Section 1.3.3: UTC with the 'Z' timezone indicator.
const SAMLTimeFormat = "2006-01-02T15:04:05Z"

// Response represents a SAML Response message as delivered to the ACS.
type Response struct {
	XMLName      xml.Name     `xml:"urn:oasis:names:tc:SAML:2.0:protocol Response"`
	SAMLP        string       `xml:"xmlns:samlp,attr,omitempty"`
	SAML         string       `xml:"xmlns:saml,attr,omitempty"`
	ID           string       `xml:"ID,attr"`
	Version      string       `xml:"Version,attr"`
	IssueInstant string       `xml:"IssueInstant,attr"`
	Destination  string       `xml:"Destination,attr,omitempty"`
	InResponseTo string       `xml:"InResponseTo,attr,omitempty"`
	Issuer       *Issuer      `xml:"Issuer,omitempty"`
	Signature    *Signature   `xml:"Signature,omitempty"`
	Status       *Status      `xml:"Status"`
	Assertions   []*Assertion `xml:"Assertion,omitempty"`
}

// Status represents the SAML Status element.
type Status struct {
	XMLName       xml.Name   `xml:"urn:oasis:names:tc:SAML:2.0:protocol Status"`
	StatusCode    StatusCode `xml:"StatusCode"`
	StatusMessage string     `xml:"StatusMessage,omitempty"`
}

// StatusCode represents the SAML StatusCode element.
type StatusCode struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol StatusCode"`
	Value   string   `xml:"Value,attr"`
}

// Assertion represents a SAML Assertion.
type Assertion struct {
	XMLName            xml.Name            `xml:"urn:oasis:names:tc:SAML:2.0:assertion Assertion"`
	SAML               string              `xml:"xmlns:saml,attr,omitempty"`
	ID                 string              `xml:"ID,attr"`
	Version            string              `xml:"Version,attr"`
	IssueInstant       string              `xml:"IssueInstant,attr"`
	Issuer             *Issuer             `xml:"Issuer"`
	Signature          *Signature          `xml:"Signature,omitempty"`
	Subject            *Subject            `xml:"Subject,omitempty"`
	Conditions         *Conditions         `xml:"Conditions,omitempty"`
	AttributeStatement *AttributeStatement `xml:"AttributeStatement,omitempty"`
}

// Issuer represents the SAML Issuer element.
type Issuer struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Issuer"`
	Format  string   `xml:"Format,attr,omitempty"`
	Value   string   `xml:",chardata"`
}

// Subject represents the SAML Subject element.
type Subject struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Subject"`
	NameID  *NameID  `xml:"NameID,omitempty"`
}

// NameID represents the SAML NameID element.
type NameID struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion NameID"`
	Format  string   `xml:"Format,attr,omitempty"`
	Value   string   `xml:",chardata"`
}

// Conditions represents the SAML Conditions element.
type Conditions struct {
	XMLName             xml.Name             `xml:"urn:oasis:names:tc:SAML:2.0:assertion Conditions"`
	NotBefore           string               `xml:"NotBefore,attr,omitempty"`
	NotOnOrAfter        string               `xml:"NotOnOrAfter,attr,omitempty"`
	AudienceRestriction *AudienceRestriction `xml:"AudienceRestriction,omitempty"`
}

// AudienceRestriction represents the SAML AudienceRestriction element.
type AudienceRestriction struct {
	XMLName  xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AudienceRestriction"`
	Audience []string `xml:"Audience"`
}

// AttributeStatement represents the SAML AttributeStatement element.
type AttributeStatement struct {
	XMLName    xml.Name    `xml:"urn:oasis:names:tc:SAML:2.0:assertion AttributeStatement"`
	Attributes []Attribute `xml:"Attribute"`
}

// Attribute represents a single SAML Attribute.
type Attribute struct {
	XMLName         xml.Name         `xml:"urn:oasis:names:tc:SAML:2.0:assertion Attribute"`
	Name            string           `xml:"Name,attr"`
	NameFormat      string           `xml:"NameFormat,attr,omitempty"`
	FriendlyName    string           `xml:"FriendlyName,attr,omitempty"`
	AttributeValues []AttributeValue `xml:"AttributeValue"`
}

// AttributeValue represents a SAML AttributeValue element.
type AttributeValue struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AttributeValue"`
	Value   string   `xml:",chardata"`
}

// Signature represents the XML digital signature element (XML-DSig).
type Signature struct {
	XMLName        xml.Name   `xml:"http://www.w3.org/2000/09/xmldsig# Signature"`
	SignedInfo     SignedInfo `xml:"SignedInfo"`
	SignatureValue string     `xml:"SignatureValue"`
	KeyInfo        *KeyInfo   `xml:"KeyInfo,omitempty"`
}

// SignedInfo represents the SignedInfo element. The dsig sub-elements
// deliberately carry no XMLName so that re-marshaling a parsed
// SignedInfo reproduces the same bytes the signer hashed.
type SignedInfo struct {
	CanonicalizationMethod AlgorithmMethod `xml:"CanonicalizationMethod"`
	SignatureMethod        AlgorithmMethod `xml:"SignatureMethod"`
	Reference              Reference       `xml:"Reference"`
}

// AlgorithmMethod covers the XML-DSig elements that carry a single
// Algorithm attribute (CanonicalizationMethod, SignatureMethod,
// DigestMethod, Transform).
type AlgorithmMethod struct {
	Algorithm string `xml:"Algorithm,attr"`
}

// Reference represents the Reference element.
type Reference struct {
	URI          string            `xml:"URI,attr"`
	Transforms   []AlgorithmMethod `xml:"Transforms>Transform"`
	DigestMethod AlgorithmMethod   `xml:"DigestMethod"`
	DigestValue  string            `xml:"DigestValue"`
}

// KeyInfo represents the KeyInfo element.
type KeyInfo struct {
	X509Data *X509Data `xml:"X509Data,omitempty"`
}

// X509Data represents the X509Data element.
type X509Data struct {
	X509Certificate string `xml:"X509Certificate"`
}

// GenerateID generates a unique SAML element ID. IDs must start with a
// letter or underscore per xs:ID.
func GenerateID() string {
	id := make([]byte, 16)
	rand.Read(id)
	return "_" + hex.EncodeToString(id)
}

// TimeNow returns the current time in SAML format.
func TimeNow() string {
	return time.Now().UTC().Format(SAMLTimeFormat)
}

// TimeIn returns a time offset from now in SAML format.
func TimeIn(d time.Duration) string {
	return time.Now().UTC().Add(d).Format(SAMLTimeFormat)
}

// NewResponse builds a successful Response wrapping a single assertion
// for the given subject. It exists for IdP-side tooling and tests; the
// service itself only consumes responses.
func NewResponse(issuer, nameID string, attributes map[string][]string) *Response {
	now := TimeNow()
	assertion := &Assertion{
		SAML:         NamespaceSAML,
		ID:           GenerateID(),
		Version:      "2.0",
		IssueInstant: now,
		Issuer:       &Issuer{Value: issuer},
		Subject: &Subject{
			NameID: &NameID{Format: NameIDFormatUnspecified, Value: nameID},
		},
		Conditions: &Conditions{
			NotBefore:    now,
			NotOnOrAfter: TimeIn(5 * time.Minute),
		},
	}

	if len(attributes) > 0 {
		stmt := &AttributeStatement{Attributes: make([]Attribute, 0, len(attributes))}
		for name, values := range attributes {
			attr := Attribute{
				Name:            name,
				AttributeValues: make([]AttributeValue, len(values)),
			}
			for i, v := range values {
				attr.AttributeValues[i] = AttributeValue{Value: v}
			}
			stmt.Attributes = append(stmt.Attributes, attr)
		}
		assertion.AttributeStatement = stmt
	}

	return &Response{
		SAMLP:        NamespaceSAMLp,
		SAML:         NamespaceSAML,
		ID:           GenerateID(),
		Version:      "2.0",
		IssueInstant: now,
		Issuer:       &Issuer{Value: issuer},
		Status:       &Status{StatusCode: StatusCode{Value: StatusSuccess}},
		Assertions:   []*Assertion{assertion},
	}
}
