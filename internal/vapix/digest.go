package vapix

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Challenge is a parsed WWW-Authenticate Digest header. Axis firmware issues
// MD5 challenges; newer releases may advertise SHA-256, which is accepted.
type Challenge struct {
	Realm     string
	Nonce     string
	Opaque    string
	Algorithm string
	Qop       []string
	Stale     bool
}

// Credentials is one camera account.
type Credentials struct {
	Username string
	Password string
}

// DigestParams are the per-attempt inputs to the response computation. The
// caller supplies cnonce and nc explicitly so a computed header can be
// recomputed and checked from its published fields.
type DigestParams struct {
	Method string
	URI    string
	Body   []byte
	Cnonce string
	NC     uint32
}

// ParseChallenge parses a WWW-Authenticate header value. Anything that is
// not a well-formed Digest challenge with realm and nonce is rejected.
func ParseChallenge(header string) (*Challenge, error) {
	const prefix = "digest "
	trimmed := strings.TrimSpace(header)
	if len(trimmed) < len(prefix) || !strings.EqualFold(trimmed[:len(prefix)], prefix) {
		return nil, NewError(KindChallengeParse, "not a Digest challenge", nil)
	}

	ch := &Challenge{Algorithm: "MD5"}
	for key, value := range parseAuthParams(trimmed[len(prefix):]) {
		switch strings.ToLower(key) {
		case "realm":
			ch.Realm = value
		case "nonce":
			ch.Nonce = value
		case "opaque":
			ch.Opaque = value
		case "algorithm":
			ch.Algorithm = value
		case "qop":
			ch.Qop = splitList(value)
		case "stale":
			ch.Stale = strings.EqualFold(value, "true")
		}
	}

	if ch.Realm == "" || ch.Nonce == "" {
		return nil, NewError(KindChallengeParse, "digest challenge missing realm or nonce", nil)
	}
	return ch, nil
}

// parseAuthParams scans comma-separated key=value pairs where values are
// either quoted strings (quotes may protect commas and backslash escapes)
// or bare tokens. A naive split on commas breaks on qop="auth,auth-int".
func parseAuthParams(s string) map[string]string {
	params := make(map[string]string)
	i, n := 0, len(s)
	for i < n {
		for i < n && (s[i] == ' ' || s[i] == '\t' || s[i] == ',') {
			i++
		}
		if i >= n {
			break
		}

		start := i
		for i < n && s[i] != '=' && s[i] != ',' {
			i++
		}
		if i >= n || s[i] != '=' {
			continue
		}
		key := strings.TrimSpace(s[start:i])
		i++

		var value string
		if i < n && s[i] == '"' {
			i++
			var b strings.Builder
			for i < n && s[i] != '"' {
				if s[i] == '\\' && i+1 < n {
					i++
				}
				b.WriteByte(s[i])
				i++
			}
			i++
			value = b.String()
		} else {
			start = i
			for i < n && s[i] != ',' {
				i++
			}
			value = strings.TrimSpace(s[start:i])
		}

		if key != "" {
			params[key] = value
		}
	}
	return params
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ChooseQop picks the protection level to answer with: auth when offered,
// else auth-int, else none (pre-RFC 2617 servers).
func (ch *Challenge) ChooseQop() string {
	for _, q := range ch.Qop {
		if q == "auth" {
			return "auth"
		}
	}
	for _, q := range ch.Qop {
		if q == "auth-int" {
			return "auth-int"
		}
	}
	return ""
}

// Authorization computes the Digest Authorization header for one attempt.
// String values are emitted quoted; qop, nc and algorithm stay bare tokens.
func (ch *Challenge) Authorization(creds Credentials, p DigestParams) (string, error) {
	h, sess, err := ch.hash()
	if err != nil {
		return "", err
	}
	qop := ch.ChooseQop()
	nc := fmt.Sprintf("%08x", p.NC)

	ha1 := h(creds.Username + ":" + ch.Realm + ":" + creds.Password)
	if sess {
		ha1 = h(ha1 + ":" + ch.Nonce + ":" + p.Cnonce)
	}

	var ha2 string
	if qop == "auth-int" {
		ha2 = h(p.Method + ":" + p.URI + ":" + h(string(p.Body)))
	} else {
		ha2 = h(p.Method + ":" + p.URI)
	}

	var response string
	if qop == "" {
		response = h(ha1 + ":" + ch.Nonce + ":" + ha2)
	} else {
		response = h(strings.Join([]string{ha1, ch.Nonce, nc, p.Cnonce, qop, ha2}, ":"))
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		creds.Username, ch.Realm, ch.Nonce, p.URI, response)
	if ch.Opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, ch.Opaque)
	}
	if ch.Algorithm != "" {
		fmt.Fprintf(&b, `, algorithm=%s`, ch.Algorithm)
	}
	if qop != "" {
		fmt.Fprintf(&b, `, qop=%s, nc=%s, cnonce="%s"`, qop, nc, p.Cnonce)
	}
	return b.String(), nil
}

func (ch *Challenge) hash() (func(string) string, bool, error) {
	switch strings.ToUpper(ch.Algorithm) {
	case "", "MD5":
		return md5Hex, false, nil
	case "MD5-SESS":
		return md5Hex, true, nil
	case "SHA-256":
		return sha256Hex, false, nil
	case "SHA-256-SESS":
		return sha256Hex, true, nil
	default:
		return nil, false, NewError(KindChallengeParse,
			fmt.Sprintf("unsupported digest algorithm %q", ch.Algorithm), nil)
	}
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// NewCnonce returns a fresh client nonce: 16 bytes from the system CSPRNG,
// hex-encoded. There is no time-seeded fallback.
func NewCnonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}
