package subscription

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// CanonicalKey identifies one underlying (abi, address, eventName) event stream.
type CanonicalKey string

// String returns the hex digest.
func (k CanonicalKey) String() string {
	return string(k)
}

// Short returns an abbreviated form for log lines.
func (k CanonicalKey) Short() string {
	if len(k) <= 12 {
		return string(k)
	}
	return string(k[:12])
}

// canonicalStream fixes the field order of the key serialisation.
type canonicalStream struct {
	ABI       []string `json:"abi"`
	Address   string   `json:"address"`
	EventName string   `json:"eventName"`
}

// canonicalRequest fixes the field order of the content hash serialisation.
type canonicalRequest struct {
	Address      string   `json:"address"`
	ABI          []string `json:"abi"`
	Type         string   `json:"type"`
	TriggerValue any      `json:"triggerValue"`
	Label        string   `json:"label"`
}

// CanonicalKeyFor derives the multiplexing key for a resolved request.
// ABI order is significant. The address is checksum-normalised first so case
// variants of one contract share a key.
func CanonicalKeyFor(abi []string, address, eventName string) CanonicalKey {
	payload := canonicalStreamJSON(abi, address, eventName)
	sum := sha256.Sum256(payload)
	return CanonicalKey(hex.EncodeToString(sum[:]))
}

// ContentHash returns the correlation token for a request. It covers the five
// request fields (address, abi, type, triggerValue, label), with the address
// as supplied and the trigger value as its literal JSON number text. Any other
// field a requester adds to the payload is dropped on decode and does not
// change the token.
func ContentHash(r Request) string {
	sum := sha256.Sum256(canonicalRequestJSON(r))
	return hex.EncodeToString(sum[:])
}

func canonicalStreamJSON(abi []string, address, eventName string) []byte {
	return marshalCanonical(canonicalStream{
		ABI:       copyFragments(abi),
		Address:   NormalizeAddress(address),
		EventName: eventName,
	})
}

func canonicalRequestJSON(r Request) []byte {
	return marshalCanonical(canonicalRequest{
		Address:      r.Address,
		ABI:          copyFragments(r.ABI),
		Type:         r.Type,
		TriggerValue: triggerLiteral(r.TriggerValue),
		Label:        r.Label,
	})
}

// triggerLiteral keeps valid number literals as numbers and falls back to a
// JSON string for anything else, so hashing never fails.
func triggerLiteral(n json.Number) any {
	s := string(n)
	if s == "" {
		return json.Number("0")
	}
	if (s[0] == '-' || (s[0] >= '0' && s[0] <= '9')) && json.Valid([]byte(s)) {
		return n
	}
	return s
}

// marshalCanonical encodes without HTML escaping and without the trailing
// newline json.Encoder appends.
func marshalCanonical(v any) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		// Only strings, string slices and valid number literals reach here.
		panic(err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

func copyFragments(abi []string) []string {
	out := make([]string, len(abi))
	copy(out, abi)
	return out
}
