package api

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Combination is one concrete assignment of matrix axes for a job instance.
type Combination map[string]string

// Expand produces the cross product of the matrix axes, minus exclude
// entries, plus include entries. Axes are crossed in sorted name order with
// declared value order preserved, so expansion is deterministic. An empty
// matrix yields a single empty combination.
func (m MatrixConfig) Expand() ([]Combination, error) {
	axes := make([]string, 0, len(m.Axes))
	for axis := range m.Axes {
		axes = append(axes, axis)
	}
	slices.Sort(axes)

	combos := []Combination{{}}
	for _, axis := range axes {
		next := make([]Combination, 0, len(combos)*len(m.Axes[axis]))
		for _, base := range combos {
			for _, v := range m.Axes[axis] {
				s, err := ScalarString(v)
				if err != nil {
					return nil, fmt.Errorf("axis %q: %w", axis, err)
				}
				c := maps.Clone(base)
				c[axis] = s
				next = append(next, c)
			}
		}
		combos = next
	}

	if len(m.Exclude) > 0 {
		kept := make([]Combination, 0, len(combos))
		for _, c := range combos {
			excluded, err := matchesAnyEntry(c, m.Exclude)
			if err != nil {
				return nil, fmt.Errorf("exclude: %w", err)
			}
			if !excluded {
				kept = append(kept, c)
			}
		}
		combos = kept
	}

	for i, entry := range m.Include {
		c := make(Combination, len(entry))
		for key, v := range entry {
			s, err := ScalarString(v)
			if err != nil {
				return nil, fmt.Errorf("include entry %d: %w", i, err)
			}
			c[key] = s
		}
		if !slices.ContainsFunc(combos, func(existing Combination) bool {
			return maps.Equal(existing, c)
		}) {
			combos = append(combos, c)
		}
	}

	return combos, nil
}

// matchesAnyEntry reports whether every key of some entry equals the
// combination's value for that key.
func matchesAnyEntry(c Combination, entries []map[string]any) (bool, error) {
	for _, entry := range entries {
		matched := true
		for key, v := range entry {
			s, err := ScalarString(v)
			if err != nil {
				return false, err
			}
			if c[key] != s {
				matched = false
				break
			}
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

// Slug returns a filesystem-friendly identifier for the combination: the
// axis values in axis-name order, sanitized and joined with dashes.
func (c Combination) Slug() string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if len(keys) == 0 {
		return "default"
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, sanitize(c[k]))
	}
	return strings.Join(parts, "-")
}

// String renders the combination as "axis=value" pairs in axis-name order.
func (c Combination) String() string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+c[k])
	}
	return strings.Join(parts, " ")
}

// ScalarString canonicalizes a YAML scalar to its string form.
func ScalarString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("value %v is not a scalar", v)
	}
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "x"
	}
	return b.String()
}
