package reconcile

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// signatureTolerance bounds how old a signed Stripe timestamp may be before
// the event is rejected as a replay.
const signatureTolerance = 5 * time.Minute

// VerifyStripeSignature checks the `Stripe-Signature` header scheme
// (t=<unix>,v1=<hex hmac-sha256 of "<t>.<payload>">).
func VerifyStripeSignature(payload []byte, signatureHeader, secret string) bool {
	header := strings.TrimSpace(signatureHeader)
	if header == "" || strings.TrimSpace(secret) == "" {
		return false
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := time.Since(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
			return true
		}
	}
	return false
}

// VerifyAirwallexSignature checks the x-signature header: hex encoded
// HMAC-SHA256 over x-timestamp concatenated with the raw body.
func VerifyAirwallexSignature(payload []byte, timestamp, signatureHeader, secret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || strings.TrimSpace(timestamp) == "" || strings.TrimSpace(secret) == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(sig)))
}

// VerifyCopeCartSignature checks the flat payload's `sign` field: MD5 over
// the base64 of the raw JSON body minus the sign member, concatenated with
// the shared API key. The sign member is stripped textually so number
// formatting and field order stay exactly as the sender signed them;
// re-marshaling through a map would alter both.
func VerifyCopeCartSignature(payload []byte, apiKey string) bool {
	if strings.TrimSpace(apiKey) == "" {
		return false
	}

	body, sign, ok := stripSignMember(payload)
	if !ok || sign == "" {
		return false
	}

	expected := CopeCartSign(body, apiKey)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(sign)))
}

// CopeCartSign computes the signature over the serialized payload without its
// sign member.
func CopeCartSign(body []byte, apiKey string) string {
	encoded := base64.StdEncoding.EncodeToString(body)
	sum := md5.Sum([]byte(encoded + apiKey))
	return fmt.Sprintf("%x", sum)
}

// stripSignMember removes the top-level "sign" member from raw JSON without
// re-encoding the rest, returning the remaining bytes and the sign value.
func stripSignMember(raw []byte) ([]byte, string, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil, "", false
	}

	for dec.More() {
		before := dec.InputOffset()
		keyTok, err := dec.Token()
		if err != nil {
			return nil, "", false
		}
		key, _ := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, "", false
		}
		after := dec.InputOffset()

		if key != "sign" {
			continue
		}
		var sign string
		if err := json.Unmarshal(value, &sign); err != nil {
			return nil, "", false
		}

		// raw[before:after] spans the member plus, for any non-first
		// member, the comma preceding it. A leading sign member leaves its
		// trailing comma in the tail instead.
		head := raw[:before]
		tail := raw[after:]
		if t := bytes.TrimRight(head, " \t\r\n"); bytes.HasSuffix(t, []byte("{")) {
			if rest := bytes.TrimLeft(tail, " \t\r\n"); bytes.HasPrefix(rest, []byte(",")) {
				tail = rest[1:]
			}
		}
		stripped := make([]byte, 0, len(head)+len(tail))
		stripped = append(stripped, head...)
		return append(stripped, tail...), sign, true
	}
	return nil, "", false
}
