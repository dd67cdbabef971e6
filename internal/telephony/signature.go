package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"sort"
	"strings"
)

// SignatureHeader carries the provider HMAC over the request.
const SignatureHeader = "X-Provider-Signature"

// ComputeSignature builds the expected HMAC-SHA1 signature: the full webhook
// URL concatenated with the form parameters sorted by key, signed with the
// account auth token and base64 encoded. JSON bodies are signed as URL+body.
func ComputeSignature(authToken, url string, params map[string]string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(url))

	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		for _, k := range keys {
			sb.WriteString(k)
			sb.WriteString(params[k])
		}
		mac.Write([]byte(sb.String()))
	} else {
		mac.Write(body)
	}

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks the received signature in constant time.
func ValidateSignature(authToken, url string, params map[string]string, body []byte, received string) bool {
	if received == "" {
		return false
	}
	expected := ComputeSignature(authToken, url, params, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1
}
