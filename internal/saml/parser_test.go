package saml

import (
	"encoding/base64"
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeResponse(t *testing.T, response *Response) string {
	t.Helper()
	data, err := xml.Marshal(response)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(data)
}

func TestParseSubjectAndEmailAttribute(t *testing.T) {
	raw := encodeResponse(t, NewResponse("https://idp.example.org", "user123", map[string][]string{
		"email": {"user@example.org"},
	}))

	identity, err := NewParser().Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "user123", identity.SubjectID)
	assert.Equal(t, "user@example.org", identity.Email)
}

func TestParseEmailShapedNameIDFallback(t *testing.T) {
	raw := encodeResponse(t, NewResponse("https://idp.example.org", "a@b.com", nil))

	identity, err := NewParser().Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", identity.SubjectID)
	assert.Equal(t, "a@b.com", identity.Email)
}

func TestParseFriendlyNameAttribute(t *testing.T) {
	response := NewResponse("https://idp.example.org", "user123", nil)
	response.Assertions[0].AttributeStatement = &AttributeStatement{
		Attributes: []Attribute{{
			Name:            "urn:oid:0.9.2342.19200300.100.1.3",
			FriendlyName:    "email",
			AttributeValues: []AttributeValue{{Value: "friendly@example.org"}},
		}},
	}

	identity, err := NewParser().Parse(encodeResponse(t, response))
	require.NoError(t, err)
	assert.Equal(t, "friendly@example.org", identity.Email)
}

func TestParseMissingIdentity(t *testing.T) {
	response := NewResponse("https://idp.example.org", "", nil)

	_, err := NewParser().Parse(encodeResponse(t, response))
	require.ErrorIs(t, err, ErrMissingIdentity)
}

func TestParseStructuralFailures(t *testing.T) {
	noAssertion := &Response{
		SAMLP:        NamespaceSAMLp,
		SAML:         NamespaceSAML,
		ID:           GenerateID(),
		Version:      "2.0",
		IssueInstant: TimeNow(),
		Status:       &Status{StatusCode: StatusCode{Value: StatusSuccess}},
	}

	noSubject := NewResponse("https://idp.example.org", "user123", nil)
	noSubject.Assertions[0].Subject = nil

	noNameID := NewResponse("https://idp.example.org", "user123", nil)
	noNameID.Assertions[0].Subject.NameID = nil

	cases := map[string]string{
		"empty payload":     "",
		"not base64":        "%%%not-base64%%%",
		"not xml":           base64.StdEncoding.EncodeToString([]byte("this is not xml")),
		"no assertion":      encodeResponse(t, noAssertion),
		"no subject":        encodeResponse(t, noSubject),
		"no nameid element": encodeResponse(t, noNameID),
	}

	parser := NewParser()
	for name, raw := range cases {
		_, err := parser.Parse(raw)
		assert.ErrorIs(t, err, ErrMalformedAssertion, name)
	}
}

func TestParseToleratesTransportMangling(t *testing.T) {
	raw := encodeResponse(t, NewResponse("https://idp.example.org", "user123", map[string][]string{
		"email": {"user@example.org"},
	}))

	// '+' characters arrive as spaces after naive form decoding.
	mangled := ""
	for _, c := range raw {
		if c == '+' {
			mangled += " "
		} else {
			mangled += string(c)
		}
	}

	identity, err := NewParser().Parse(mangled)
	require.NoError(t, err)
	assert.Equal(t, "user123", identity.SubjectID)
}
