package instapaper

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// signer produces OAuth 1.0a HMAC-SHA1 Authorization headers. The nonce
// and clock functions are injectable so signatures are deterministic in
// tests.
type signer struct {
	consumerKey    string
	consumerSecret string

	nonce func() string
	now   func() time.Time
}

func newSigner(consumerKey, consumerSecret string) *signer {
	return &signer{
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		nonce:          randomNonce,
		now:            time.Now,
	}
}

// authorize builds the Authorization header for a request. form holds
// the request body parameters, which participate in the signature base
// string alongside the oauth_* parameters.
func (s *signer) authorize(method, requestURL string, form url.Values, token, tokenSecret string) (string, error) {
	u, err := url.Parse(requestURL)
	if err != nil {
		return "", fmt.Errorf("parse request url: %w", err)
	}

	oauthParams := map[string]string{
		"oauth_consumer_key":     s.consumerKey,
		"oauth_nonce":            s.nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(s.now().Unix(), 10),
		"oauth_version":          "1.0",
	}
	if token != "" {
		oauthParams["oauth_token"] = token
	}

	signature := s.sign(method, u, form, oauthParams, tokenSecret)
	oauthParams["oauth_signature"] = signature

	keys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var header strings.Builder
	header.WriteString("OAuth ")
	for i, k := range keys {
		if i > 0 {
			header.WriteString(", ")
		}
		header.WriteString(percentEncode(k))
		header.WriteString(`="`)
		header.WriteString(percentEncode(oauthParams[k]))
		header.WriteString(`"`)
	}
	return header.String(), nil
}

func (s *signer) sign(method string, u *url.URL, form url.Values, oauthParams map[string]string, tokenSecret string) string {
	type pair struct{ key, value string }
	var pairs []pair
	for k, vs := range u.Query() {
		for _, v := range vs {
			pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
		}
	}
	for k, vs := range form {
		for _, v := range vs {
			pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
		}
	}
	for k, v := range oauthParams {
		pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})

	var params strings.Builder
	for i, p := range pairs {
		if i > 0 {
			params.WriteByte('&')
		}
		params.WriteString(p.key)
		params.WriteByte('=')
		params.WriteString(p.value)
	}

	baseURL := u.Scheme + "://" + u.Host + u.EscapedPath()
	base := strings.ToUpper(method) + "&" + percentEncode(baseURL) + "&" + percentEncode(params.String())
	key := percentEncode(s.consumerSecret) + "&" + percentEncode(tokenSecret)

	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// percentEncode applies RFC 3986 encoding, which is stricter than
// url.QueryEscape about spaces and tildes.
func percentEncode(s string) string {
	var out strings.Builder
	for _, b := range []byte(s) {
		if isUnreserved(b) {
			out.WriteByte(b)
		} else {
			out.WriteString(fmt.Sprintf("%%%02X", b))
		}
	}
	return out.String()
}

func isUnreserved(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '-' || b == '.' || b == '_' || b == '~':
		return true
	}
	return false
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(buf)
}
