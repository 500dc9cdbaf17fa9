package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/juju/schema"

	"github.com/rmacdonaldsmith/eth-engine-go/pkg/subscription"
)

// requestField is one entry of the inbound command contract.
type requestField struct {
	name    string
	checker schema.Checker
}

// requestContract lists every field of a command in the order it is checked.
// The first violation is the one reported.
var requestContract = []requestField{
	{"address", text()},
	{"abi", schema.List(text())},
	{"type", text()},
	{"triggerValue", numberChecker{}},
	{"label", text()},
}

// textChecker rejects JSON numbers before delegating, since UseNumber decodes
// them to json.Number, which schema.String would accept as a string kind.
type textChecker struct {
	schema.Checker
}

func text() schema.Checker {
	return textChecker{schema.String()}
}

func (c textChecker) Coerce(v interface{}, path []string) (interface{}, error) {
	if _, ok := v.(json.Number); ok {
		return nil, fmt.Errorf("%s: expected string, got number(%s)", pathString(path), v)
	}
	return c.Checker.Coerce(v, path)
}

// numberChecker accepts JSON numbers decoded with UseNumber. Numeric strings
// are rejected.
type numberChecker struct{}

func (numberChecker) Coerce(v interface{}, path []string) (interface{}, error) {
	n, ok := v.(json.Number)
	if !ok {
		return nil, fmt.Errorf("%s: expected number, got %s", pathString(path), describe(v))
	}
	if _, err := n.Float64(); err != nil {
		return nil, fmt.Errorf("%s: %q is not a number", pathString(path), string(n))
	}
	return n, nil
}

// DecodeRequest parses and validates a command payload. Any violation is
// returned as a *subscription.ValidationError naming the offending field.
// Fields outside the contract are ignored.
func DecodeRequest(payload []byte) (subscription.Request, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil || raw == nil {
		reason := "payload must be a JSON object"
		if err != nil {
			reason = fmt.Sprintf("%s: %v", reason, err)
		}
		return subscription.Request{}, &subscription.ValidationError{Field: "payload", Reason: reason}
	}

	coerced := make(map[string]interface{}, len(requestContract))
	for _, field := range requestContract {
		v, ok := raw[field.name]
		if !ok {
			return subscription.Request{}, &subscription.ValidationError{Field: field.name, Reason: "is required"}
		}
		out, err := field.checker.Coerce(v, []string{field.name})
		if err != nil {
			return subscription.Request{}, &subscription.ValidationError{Field: field.name, Reason: err.Error()}
		}
		coerced[field.name] = out
	}

	fragments := coerced["abi"].([]interface{})
	abi := make([]string, len(fragments))
	for i, fragment := range fragments {
		abi[i] = fragment.(string)
	}

	req := subscription.Request{
		Address:      coerced["address"].(string),
		ABI:          abi,
		Type:         coerced["type"].(string),
		TriggerValue: coerced["triggerValue"].(json.Number),
		Label:        coerced["label"].(string),
	}
	if err := req.Validate(); err != nil {
		return subscription.Request{}, err
	}
	return req, nil
}

func pathString(path []string) string {
	if len(path) == 0 {
		return "value"
	}
	return strings.Join(path, "")
}

func describe(v interface{}) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%s(%#v)", reflect.TypeOf(v).Kind(), v)
}
