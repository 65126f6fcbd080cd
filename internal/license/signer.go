// Package license produces the signed license XML that cameras accept on
// their license upload endpoint. The connector signs in-process with an RSA
// key loaded at startup; callers treat GenerateLicense as an opaque
// transform from (device id, license key) to XML.
package license

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
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

// ErrInvalidSignature is returned by Verify when the document does not match
// its embedded signature.
var ErrInvalidSignature = errors.New("license signature verification failed")

// serialPattern matches an Axis device id: the 12 hex digits of the device
// MAC, no separators.
var serialPattern = regexp.MustCompile(`^[0-9A-F]{12}$`)

// Document is the license XML layout. The camera checks DeviceID against its
// own serial before accepting the key.
type Document struct {
	XMLName    xml.Name  `xml:"LicenseKey"`
	Xmlns      string    `xml:"xmlns,attr"`
	DeviceID   string    `xml:"DeviceId"`
	LicenseKey string    `xml:"ApplicationLicenseKey"`
	IssuedAt   time.Time `xml:"IssuedAt"`
	Signature  Signature `xml:"Signature"`
}

// Signature is the base64 RSA-SHA256 signature over the canonical payload.
type Signature struct {
	Algorithm string `xml:"algorithm,attr"`
	Value     string `xml:",chardata"`
}

const (
	xmlns        = "http://www.anava.ai/license/1.0"
	sigAlgorithm = "RSA-SHA256"
)

// Signer holds the private key. Safe for concurrent use.
type Signer struct {
	key *rsa.PrivateKey
}

// NewSigner loads an RSA private key from a PEM file (PKCS#1 or PKCS#8).
func NewSigner(keyPath string) (*Signer, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", keyPath)
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		parsed, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signing key in %s is not RSA", keyPath)
		}
		key = rsaKey
	}
	return &Signer{key: key}, nil
}

// NewSignerFromKey wraps an in-memory key; tests use it.
func NewSignerFromKey(key *rsa.PrivateKey) *Signer {
	return &Signer{key: key}
}

// GenerateLicense builds and signs the license document binding deviceID to
// licenseKey. The device id is normalized to the upper-case 12-hex-digit
// serial form cameras report.
func (s *Signer) GenerateLicense(ctx context.Context, deviceID, licenseKey string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	serial := NormalizeDeviceID(deviceID)
	if !serialPattern.MatchString(serial) {
		return "", fmt.Errorf("device id %q is not a 12-digit device serial", deviceID)
	}
	licenseKey = strings.TrimSpace(licenseKey)
	if licenseKey == "" {
		return "", errors.New("license key is empty")
	}

	doc := Document{
		Xmlns:      xmlns,
		DeviceID:   serial,
		LicenseKey: licenseKey,
		IssuedAt:   time.Now().UTC().Truncate(time.Second),
	}

	hashed := sha256.Sum256([]byte(canonicalPayload(doc)))
	sig, err := rsa.SignPKCS1v15(nil, s.key, crypto.SHA256, hashed[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign license: %w", err)
	}
	doc.Signature = Signature{
		Algorithm: sigAlgorithm,
		Value:     base64.StdEncoding.EncodeToString(sig),
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode license: %w", err)
	}
	return xml.Header + string(out), nil
}

// Verify parses a license document and checks its signature against pub.
// The connector itself never verifies (cameras do); this is the round-trip
// check used by tests and diagnostics.
func Verify(licenseXML string, pub *rsa.PublicKey) (*Document, error) {
	var doc Document
	if err := xml.Unmarshal([]byte(licenseXML), &doc); err != nil {
		return nil, fmt.Errorf("malformed license document: %w", err)
	}
	if doc.Signature.Algorithm != sigAlgorithm {
		return nil, fmt.Errorf("unsupported signature algorithm %q", doc.Signature.Algorithm)
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(doc.Signature.Value))
	if err != nil {
		return nil, fmt.Errorf("malformed signature: %w", err)
	}

	hashed := sha256.Sum256([]byte(canonicalPayload(doc)))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], sig); err != nil {
		return nil, ErrInvalidSignature
	}
	return &doc, nil
}

// NormalizeDeviceID strips MAC separators and upper-cases, so
// "b8:a4:4f:45:d6:24" and "B8A44F45D624" name the same device.
func NormalizeDeviceID(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	id = strings.ReplaceAll(id, ":", "")
	return strings.ReplaceAll(id, "-", "")
}

// canonicalPayload is the exact byte string the signature covers. Field
// order and the RFC3339 timestamp rendering are part of the format.
func canonicalPayload(doc Document) string {
	return doc.DeviceID + "\n" + doc.LicenseKey + "\n" + doc.IssuedAt.Format(time.RFC3339)
}
