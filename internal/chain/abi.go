package chain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	// ErrNoFragments is returned when an ABI has no fragments at all
	ErrNoFragments = errors.New("abi has no fragments")
	// ErrEventNotFound is returned when the requested event is not in the ABI
	ErrEventNotFound = errors.New("event not found in abi")
)

var (
	eventFragmentRe = regexp.MustCompile(`^event\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*\((.*)\)\s*(anonymous)?\s*;?$`)
	bareIntRe       = regexp.MustCompile(`^(u?int)(\[.*)?$`)
)

// ParseEvents parses ABI fragments into events keyed by name. Fragments may
// be human-readable ("event Transfer(address indexed from, address indexed
// to, uint amount)") or JSON objects. Non-event fragments are ignored. When
// an event name is overloaded the first definition wins.
func ParseEvents(fragments []string) (map[string]abi.Event, error) {
	if len(fragments) == 0 {
		return nil, ErrNoFragments
	}

	events := make(map[string]abi.Event)
	add := func(ev abi.Event) {
		if _, exists := events[ev.RawName]; !exists {
			events[ev.RawName] = ev
		}
	}

	for i, fragment := range fragments {
		fragment = strings.TrimSpace(fragment)
		switch {
		case strings.HasPrefix(fragment, "{"):
			parsed, err := abi.JSON(strings.NewReader("[" + fragment + "]"))
			if err != nil {
				return nil, fmt.Errorf("fragment %d: %w", i, err)
			}
			for _, ev := range parsed.Events {
				add(ev)
			}
		case strings.HasPrefix(fragment, "["):
			parsed, err := abi.JSON(strings.NewReader(fragment))
			if err != nil {
				return nil, fmt.Errorf("fragment %d: %w", i, err)
			}
			for _, ev := range parsed.Events {
				add(ev)
			}
		case strings.HasPrefix(fragment, "event "):
			ev, err := parseEventSignature(fragment)
			if err != nil {
				return nil, fmt.Errorf("fragment %d: %w", i, err)
			}
			add(ev)
		}
	}
	return events, nil
}

// FindEvent parses the fragments and returns the named event.
func FindEvent(fragments []string, name string) (abi.Event, error) {
	events, err := ParseEvents(fragments)
	if err != nil {
		return abi.Event{}, err
	}
	ev, ok := events[name]
	if !ok {
		return abi.Event{}, fmt.Errorf("%w: %s", ErrEventNotFound, name)
	}
	return ev, nil
}

func parseEventSignature(fragment string) (abi.Event, error) {
	m := eventFragmentRe.FindStringSubmatch(fragment)
	if m == nil {
		return abi.Event{}, fmt.Errorf("malformed event fragment %q", fragment)
	}
	name, params, anonymous := m[1], strings.TrimSpace(m[2]), m[3] != ""

	var inputs abi.Arguments
	if params != "" {
		for i, param := range strings.Split(params, ",") {
			arg, err := parseParam(strings.TrimSpace(param), i)
			if err != nil {
				return abi.Event{}, fmt.Errorf("event %s: %w", name, err)
			}
			inputs = append(inputs, arg)
		}
	}
	return abi.NewEvent(name, name, anonymous, inputs), nil
}

// parseParam parses "type [indexed] [name]". Unnamed parameters are named
// argN after their position so decoded values stay addressable.
func parseParam(param string, position int) (abi.Argument, error) {
	fields := strings.Fields(param)
	if len(fields) == 0 {
		return abi.Argument{}, fmt.Errorf("empty parameter at position %d", position)
	}
	if strings.HasPrefix(fields[0], "tuple") || strings.HasPrefix(fields[0], "(") {
		return abi.Argument{}, fmt.Errorf("tuple parameters need a JSON fragment (position %d)", position)
	}

	typ, err := abi.NewType(normalizeType(fields[0]), "", nil)
	if err != nil {
		return abi.Argument{}, fmt.Errorf("parameter %d: %w", position, err)
	}

	arg := abi.Argument{Type: typ, Name: fmt.Sprintf("arg%d", position)}
	rest := fields[1:]
	if len(rest) > 0 && rest[0] == "indexed" {
		arg.Indexed = true
		rest = rest[1:]
	}
	switch len(rest) {
	case 0:
	case 1:
		arg.Name = rest[0]
	default:
		return abi.Argument{}, fmt.Errorf("unexpected tokens in parameter %q", param)
	}
	return arg, nil
}

// normalizeType expands the uint/int aliases to their 256-bit forms.
func normalizeType(t string) string {
	if m := bareIntRe.FindStringSubmatch(t); m != nil {
		return m[1] + "256" + m[2]
	}
	return t
}
