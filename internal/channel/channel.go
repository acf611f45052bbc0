// Package channel implements the three channel-name shapes used by the
// realtime layer and their stable, key-sorted JSON serialization. It has no
// dependency on the schema package: callers resolve which fields are
// "primary" before calling here, so this package only knows how to format
// and parse names, not what a view's paramFields are.
package channel

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const prefix = "crud>"

var envelopePattern = regexp.MustCompile(`^crud>(.*)$`)
var viewPattern = regexp.MustCompile(`^([^(]*)\((.*)\):([^:]*)$`)

// ResourceName formats the resource-level channel for (typ, id).
func ResourceName(typ, id string) string {
	return fmt.Sprintf("%s%s/%s", prefix, typ, id)
}

// FieldName formats the resource-field channel for (typ, id, field).
func FieldName(typ, id, field string) string {
	return fmt.Sprintf("%s%s/%s/%s", prefix, typ, id, field)
}

// ViewName formats the view channel for (view, primaryParams, typ). Callers
// must have already reduced params to the view's primary-params projection
// (see PrimaryParams) before calling this.
func ViewName(view string, primaryParams map[string]any, typ string) (string, error) {
	body, err := StableStringify(primaryParams)
	if err != nil {
		return "", fmt.Errorf("channel: stringify viewParams: %w", err)
	}
	return fmt.Sprintf("%s%s(%s):%s", prefix, view, body, typ), nil
}

// PrimaryParams reduces params to the subset that determines a view's
// channel identity. When primaryFields is non-empty, only those fields are
// kept (missing ones coerced to null); otherwise the whole params object is
// used. Unless typed is true, every value is coerced to its string
// representation so channel names stay invariant across number/string input.
func PrimaryParams(params map[string]any, primaryFields []string, typed bool) map[string]any {
	var selected map[string]any
	if len(primaryFields) > 0 {
		selected = make(map[string]any, len(primaryFields))
		for _, field := range primaryFields {
			v, ok := params[field]
			if !ok {
				selected[field] = nil
				continue
			}
			selected[field] = v
		}
	} else {
		selected = make(map[string]any, len(params))
		for k, v := range params {
			selected[k] = v
		}
	}
	if typed {
		return selected
	}
	stringified := make(map[string]any, len(selected))
	for k, v := range selected {
		stringified[k] = toStringValue(v)
	}
	return stringified
}

func toStringValue(v any) any {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// StableStringify serializes v as JSON with every object's keys sorted
// lexicographically, recursively; arrays preserve their original order.
// encoding/json already sorts map[string]any keys this way, so this is a
// thin, explicitly-named wrapper documenting that invariant for callers on
// both sides of the publish/subscribe boundary.
func StableStringify(v any) (string, error) {
	b, err := json.Marshal(sortedCopy(v))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// sortedCopy walks v, copying nested map[string]any and []any values into
// fresh plain maps and slices. The deterministic key order of the output
// comes from encoding/json, which sorts map keys when marshalling.
func sortedCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = sortedCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = sortedCopy(val)
		}
		return out
	default:
		return t
	}
}

// ParsedKind distinguishes the three channel shapes.
type ParsedKind string

const (
	KindResource ParsedKind = "resource"
	KindField    ParsedKind = "field"
	KindView     ParsedKind = "view"
)

// Parsed is the result of decoding a CRUD channel name.
type Parsed struct {
	Kind       ParsedKind
	Type       string
	ID         string
	Field      string
	View       string
	ViewParams map[string]any
}

// ParseChannelResourceQuery inverts ResourceName/FieldName/ViewName. It
// returns (nil, nil) — not an error — when name doesn't carry the crud>
// envelope at all, since many channel names in a shared pub/sub namespace
// belong to unrelated subsystems. For a view channel, a malformed inner JSON
// payload yields ViewParams == nil rather than failing the call.
func ParseChannelResourceQuery(name string) (*Parsed, error) {
	envelope := envelopePattern.FindStringSubmatch(name)
	if envelope == nil {
		return nil, nil
	}
	inner := envelope[1]

	if m := viewPattern.FindStringSubmatch(inner); m != nil {
		view, jsonBody, typ := m[1], m[2], m[3]
		var params map[string]any
		if err := json.Unmarshal([]byte(jsonBody), &params); err != nil {
			params = nil
		}
		return &Parsed{Kind: KindView, View: view, Type: typ, ViewParams: params}, nil
	}

	parts := strings.Split(inner, "/")
	switch len(parts) {
	case 2:
		return &Parsed{Kind: KindResource, Type: parts[0], ID: parts[1]}, nil
	case 3:
		return &Parsed{Kind: KindField, Type: parts[0], ID: parts[1], Field: parts[2]}, nil
	default:
		return nil, fmt.Errorf("channel: malformed CRUD channel %q", name)
	}
}
