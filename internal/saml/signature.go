package saml

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // legacy IdP compatibility only
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// ErrSignatureInvalid is the kind of every signature verification
// failure. Only accept identity assertions actually issued by the
// trusted provider: a response whose signature cannot be verified is
// treated the same as a malformed one by upper layers.
var ErrSignatureInvalid = errors.New("saml signature verification failed")

// SignatureValidator verifies XML digital signatures on SAML responses
// against a single trusted IdP certificate, per XML-DSig and SAML 2.0
// Core Section 5.
type SignatureValidator struct {
	cert              *x509.Certificate
	allowedAlgorithms map[string]bool
}

// NewSignatureValidator builds a validator for the given IdP certificate.
// SHA-1 algorithms stay accepted for federation with older IdPs; new
// deployments are expected to sign with SHA-256 or stronger.
func NewSignatureValidator(cert *x509.Certificate) (*SignatureValidator, error) {
	if cert == nil {
		return nil, errors.New("saml: certificate cannot be nil")
	}
	now := time.Now()
	if now.Before(cert.NotBefore) {
		return nil, fmt.Errorf("saml: idp certificate not yet valid (NotBefore %s)", cert.NotBefore)
	}
	if now.After(cert.NotAfter) {
		return nil, fmt.Errorf("saml: idp certificate expired (NotAfter %s)", cert.NotAfter)
	}

	return &SignatureValidator{
		cert: cert,
		allowedAlgorithms: map[string]bool{
			"http://www.w3.org/2001/04/xmldsig-more#rsa-sha256": true,
			"http://www.w3.org/2001/04/xmldsig-more#rsa-sha384": true,
			"http://www.w3.org/2001/04/xmldsig-more#rsa-sha512": true,
			"http://www.w3.org/2000/09/xmldsig#rsa-sha1":        true, // legacy IdP compatibility

			"http://www.w3.org/2001/04/xmlenc#sha256": true,
			"http://www.w3.org/2001/04/xmlenc#sha384": true,
			"http://www.w3.org/2001/04/xmlenc#sha512": true,
			"http://www.w3.org/2000/09/xmldsig#sha1":  true, // legacy IdP compatibility
		},
	}, nil
}

// LoadCertificate reads a PEM or raw DER encoded X.509 certificate from
// disk, as provisioned from the IdP metadata.
func LoadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("saml: read certificate: %w", err)
	}
	if block, _ := pem.Decode(data); block != nil {
		data = block.Bytes
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("saml: parse certificate: %w", err)
	}
	return cert, nil
}

// Verify checks that the response or its assertion carries a signature
// that verifies against the trusted certificate. Per SAML 2.0 Profiles
// Section 4.1.4.3 at least one of the two must be signed.
func (v *SignatureValidator) Verify(xmlData []byte, response *Response) error {
	if response.Signature != nil {
		return v.verifySignature(xmlData, response.Signature)
	}
	for _, assertion := range response.Assertions {
		if assertion != nil && assertion.Signature != nil {
			return v.verifySignature(xmlData, assertion.Signature)
		}
	}
	return fmt.Errorf("%w: neither response nor assertion is signed", ErrSignatureInvalid)
}

func (v *SignatureValidator) verifySignature(xmlData []byte, sig *Signature) error {
	sigAlg := sig.SignedInfo.SignatureMethod.Algorithm
	if !v.allowedAlgorithms[sigAlg] {
		return fmt.Errorf("%w: signature algorithm %q not allowed", ErrSignatureInvalid, sigAlg)
	}
	digestAlg := sig.SignedInfo.Reference.DigestMethod.Algorithm
	if !v.allowedAlgorithms[digestAlg] {
		return fmt.Errorf("%w: digest algorithm %q not allowed", ErrSignatureInvalid, digestAlg)
	}

	if err := v.verifyDigest(xmlData, sig, digestAlg); err != nil {
		return err
	}
	return v.verifySignatureValue(sig, sigAlg)
}

// verifyDigest recomputes the digest over the referenced content and
// compares it against the signed DigestValue.
func (v *SignatureValidator) verifyDigest(xmlData []byte, sig *Signature, digestAlg string) error {
	refURI := sig.SignedInfo.Reference.URI

	var content []byte
	switch {
	case refURI == "" || refURI == "#":
		content = xmlData
	case strings.HasPrefix(refURI, "#"):
		extracted, err := extractElementByID(xmlData, strings.TrimPrefix(refURI, "#"))
		if err != nil {
			return fmt.Errorf("%w: referenced element: %v", ErrSignatureInvalid, err)
		}
		content = extracted
	default:
		return fmt.Errorf("%w: external reference %q not supported", ErrSignatureInvalid, refURI)
	}

	for _, transform := range sig.SignedInfo.Reference.Transforms {
		if transform.Algorithm == "http://www.w3.org/2000/09/xmldsig#enveloped-signature" {
			content = removeSignatureElement(content)
		}
	}

	computed, err := hashFor(digestAlg, canonicalizeXML(content))
	if err != nil {
		return err
	}

	expected, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sig.SignedInfo.Reference.DigestValue))
	if err != nil {
		return fmt.Errorf("%w: digest value is not base64: %v", ErrSignatureInvalid, err)
	}
	if subtle.ConstantTimeCompare(computed, expected) != 1 {
		return fmt.Errorf("%w: digest mismatch", ErrSignatureInvalid)
	}
	return nil
}

// verifySignatureValue checks the RSA PKCS#1 v1.5 signature over the
// canonicalized SignedInfo element.
func (v *SignatureValidator) verifySignatureValue(sig *Signature, sigAlg string) error {
	signedInfoXML, err := xml.Marshal(sig.SignedInfo)
	if err != nil {
		return fmt.Errorf("%w: marshal SignedInfo: %v", ErrSignatureInvalid, err)
	}

	sigValue, err := base64.StdEncoding.DecodeString(
		strings.ReplaceAll(strings.TrimSpace(sig.SignatureValue), " ", ""))
	if err != nil {
		return fmt.Errorf("%w: signature value is not base64: %v", ErrSignatureInvalid, err)
	}

	pubKey, ok := v.cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: idp certificate does not carry an RSA key", ErrSignatureInvalid)
	}

	hashed, err := hashFor(sigAlg, canonicalizeXML(signedInfoXML))
	if err != nil {
		return err
	}

	var hashFunc crypto.Hash
	switch {
	case strings.Contains(sigAlg, "sha256"):
		hashFunc = crypto.SHA256
	case strings.Contains(sigAlg, "sha384"):
		hashFunc = crypto.SHA384
	case strings.Contains(sigAlg, "sha512"):
		hashFunc = crypto.SHA512
	default:
		hashFunc = crypto.SHA1
	}

	if err := rsa.VerifyPKCS1v15(pubKey, hashFunc, hashed, sigValue); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

func hashFor(alg string, data []byte) ([]byte, error) {
	switch {
	case strings.Contains(alg, "sha256"):
		h := sha256.Sum256(data)
		return h[:], nil
	case strings.Contains(alg, "sha384"):
		h := sha512.Sum384(data)
		return h[:], nil
	case strings.Contains(alg, "sha512"):
		h := sha512.Sum512(data)
		return h[:], nil
	case strings.Contains(alg, "sha1"):
		h := sha1.Sum(data) //nolint:gosec // legacy IdP compatibility only
		return h[:], nil
	default:
		return nil, fmt.Errorf("%w: unsupported hash algorithm %q", ErrSignatureInvalid, alg)
	}
}

// extractElementByID extracts the XML element whose ID attribute matches.
// Depth matching is textual; assertion documents are small and the
// element IDs are generated, not attacker-chosen names.
func extractElementByID(xmlData []byte, id string) ([]byte, error) {
	pattern := fmt.Sprintf(`<[^>]*(?:ID|Id)="%s"[^>]*>`, regexp.QuoteMeta(id))
	loc := regexp.MustCompile(pattern).FindIndex(xmlData)
	if loc == nil {
		return nil, fmt.Errorf("element with ID %s not found", id)
	}

	startIdx := loc[0]
	tagName := extractTagName(xmlData[startIdx:])
	depth := 1

	endIdx := loc[1]
	for endIdx < len(xmlData) && depth > 0 {
		if xmlData[endIdx] == '<' {
			rest := xmlData[endIdx:]
			closeTag := "</" + tagName + ">"
			openTag := "<" + tagName
			switch {
			case strings.HasPrefix(string(rest), closeTag):
				depth--
				if depth == 0 {
					endIdx += len(closeTag)
					return xmlData[startIdx:endIdx], nil
				}
			case strings.HasPrefix(string(rest), openTag):
				depth++
			}
		}
		endIdx++
	}
	return nil, fmt.Errorf("unmatched tags for element %s", id)
}

func extractTagName(tag []byte) string {
	start := 1
	for start < len(tag) && (tag[start] == ' ' || tag[start] == '\t') {
		start++
	}
	end := start
	for end < len(tag) && tag[end] != ' ' && tag[end] != '>' && tag[end] != '/' {
		end++
	}
	return string(tag[start:end])
}

// removeSignatureElement strips the Signature element, as required when
// applying the enveloped-signature transform.
func removeSignatureElement(xmlData []byte) []byte {
	re := regexp.MustCompile(`<(?:[A-Za-z0-9]+:)?Signature[ >][\s\S]*?</(?:[A-Za-z0-9]+:)?Signature>`)
	return re.ReplaceAll(xmlData, nil)
}

// canonicalizeXML applies a simplified canonical form: declaration
// stripped, line endings normalized, surrounding whitespace trimmed.
// A full exclusive-C14N implementation is the known gap here; the IdP
// must sign the serialized form it transmits.
func canonicalizeXML(xmlData []byte) []byte {
	s := string(regexp.MustCompile(`<\?xml[^?]*\?>`).ReplaceAll(xmlData, nil))
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return []byte(strings.TrimSpace(s))
}
