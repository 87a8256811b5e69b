package resolver

import (
	"fmt"
	"sort"
	"strings"
)

// ValueKind tags how a setting was supplied.
type ValueKind int

const (
	Absent ValueKind = iota
	StringValue
	PlatformMap
)

func (k ValueKind) String() string {
	switch k {
	case StringValue:
		return "string"
	case PlatformMap:
		return "platform-map"
	default:
		return "absent"
	}
}

// Value is a setting resolved for one platform: a plain string, a map keyed by
// platform, or nothing at all.
type Value struct {
	Kind      ValueKind
	Str       string
	Platforms map[Platform]string
	// Key is the flattened key the selected value came from.
	Key string
}

// ForPlatform returns the string that applies to p.
func (v Value) ForPlatform(p Platform) string {
	switch v.Kind {
	case StringValue:
		return v.Str
	case PlatformMap:
		return v.Platforms[p]
	default:
		return ""
	}
}

type entry struct {
	value any
	layer int
}

// Settings is the flattened merge of several layers. Each key remembers the
// layer that last wrote it.
type Settings struct {
	entries map[string]entry
}

// Flatten turns nested maps into dotted keys ("php_path": {"linux": x} becomes
// "php_path.linux": x). Lists and scalars are leaves; empty maps vanish. A
// "darwin" qualifier is renamed to "osx".
func Flatten(raw map[string]any) map[string]any {
	flat := make(map[string]any)
	flattenInto(flat, "", raw)

	return flat
}

func flattenInto(flat map[string]any, prefix string, raw map[string]any) {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	// Literal dotted keys are applied after nested ones and win collisions.
	sort.Slice(keys, func(i, j int) bool {
		di, dj := strings.Count(keys[i], "."), strings.Count(keys[j], ".")
		if di != dj {
			return di < dj
		}
		return keys[i] < keys[j]
	})

	for _, key := range keys {
		value := raw[key]
		if prefix != "" && key == "darwin" {
			key = string(PlatformOSX)
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		if nested, ok := value.(map[string]any); ok {
			flattenInto(flat, key, nested)
			continue
		}
		flat[key] = value
	}
}

// Merge flattens each layer and overlays them key by key, lowest precedence first.
// Nil layers are skipped but still count as a precedence level.
func Merge(layers ...map[string]any) *Settings {
	s := &Settings{entries: make(map[string]entry)}

	for i, layer := range layers {
		for key, value := range Flatten(layer) {
			s.entries[key] = entry{value: value, layer: i}
		}
	}

	return s
}

// Get returns the raw merged value of a flattened key.
func (s *Settings) Get(key string) (any, bool) {
	e, ok := s.entries[key]
	return e.value, ok
}

// Keys returns the flattened keys in sorted order.
func (s *Settings) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}

// Map returns a copy of the flattened settings.
func (s *Settings) Map() map[string]any {
	flat := make(map[string]any, len(s.entries))
	for key, e := range s.entries {
		flat[key] = e.value
	}

	return flat
}

// transform returns new Settings with fn applied to every value, keeping layers.
func (s *Settings) transform(fn func(key string, value any) any) *Settings {
	out := &Settings{entries: make(map[string]entry, len(s.entries))}
	for key, e := range s.entries {
		out.entries[key] = entry{value: fn(key, e.value), layer: e.layer}
	}

	return out
}

// Lookup resolves key for platform p. Between the plain key and "key.<p>" the one
// written by the higher layer wins; on a tie the platform-qualified key wins. A
// winning empty string clears the setting. Keys qualified for other platforms
// never decide the result.
func (s *Settings) Lookup(key string, p Platform) Value {
	qualifiedKey := key + "." + string(p)
	plain, hasPlain := s.stringEntry(key)
	qualified, hasQualified := s.stringEntry(qualifiedKey)

	if hasQualified && (!hasPlain || qualified.layer >= plain.layer) {
		if qualified.value.(string) == "" {
			return Value{Kind: Absent, Key: qualifiedKey}
		}
		platforms := make(map[Platform]string)
		for _, candidate := range Platforms {
			if e, ok := s.stringEntry(key + "." + string(candidate)); ok && e.value.(string) != "" {
				platforms[candidate] = e.value.(string)
			}
		}
		return Value{Kind: PlatformMap, Platforms: platforms, Key: qualifiedKey}
	}

	if hasPlain && plain.value.(string) != "" {
		return Value{Kind: StringValue, Str: plain.value.(string), Key: key}
	}

	return Value{Kind: Absent, Key: qualifiedKey}
}

// stringEntry returns the entry for key when it holds a string, empty or not.
func (s *Settings) stringEntry(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if _, isString := e.value.(string); !isString {
		return entry{}, false
	}

	return e, true
}

// Bool reads a boolean setting; anything that is not a bool counts as false.
func (s *Settings) Bool(key string) bool {
	b, _ := s.entries[key].value.(bool)
	return b
}

// Strings reads a list setting. A single string is treated as a one-element list.
func (s *Settings) Strings(key string) []string {
	switch v := s.entries[key].value.(type) {
	case []any:
		values := make([]string, 0, len(v))
		for _, item := range v {
			values = append(values, fmt.Sprint(item))
		}
		return values
	case []string:
		return append([]string(nil), v...)
	case string:
		if v == "" {
			return []string{}
		}
		return []string{v}
	default:
		return []string{}
	}
}

// StringMap collects "prefix.name" string entries into a name -> value map.
func (s *Settings) StringMap(prefix string) map[string]string {
	values := make(map[string]string)
	for key, e := range s.entries {
		name, found := strings.CutPrefix(key, prefix+".")
		if !found {
			continue
		}
		if str, ok := e.value.(string); ok {
			values[name] = str
		}
	}

	return values
}
