package types

import (
	"encoding/json"
	"fmt"
)

// UnmarshalJSON accepts both the string form and plain JSON booleans, which
// older project files used for committed membership.
func (m *MultiState) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if b {
			*m = MultiTrue
		} else {
			*m = MultiFalse
		}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("isMulti: %w", err)
	}
	if s == "" {
		*m = MultiFalse
		return nil
	}
	st := MultiState(s)
	if !st.Valid() {
		return fmt.Errorf("isMulti: invalid value %q", s)
	}
	*m = st
	return nil
}

type typeTag struct {
	Type ComponentType `json:"type"`
}

// UnmarshalComponent decodes one component, dispatching on its type tag.
func UnmarshalComponent(data []byte) (Component, error) {
	var tag typeTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("failed to read component type: %w", err)
	}
	if tag.Type == "" {
		return nil, fmt.Errorf("component has no type")
	}

	c, err := NewComponent(tag.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to decode %s component: %w", tag.Type, err)
	}

	b := c.Common()
	b.Type = tag.Type
	if b.IsMulti == "" {
		b.IsMulti = MultiFalse
	}
	return c, nil
}

func MarshalComponent(c Component) ([]byte, error) {
	return json.Marshal(c)
}

// ComponentMap is the id-keyed component collection as it appears in
// project documents.
type ComponentMap map[string]Component

func (m *ComponentMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(ComponentMap, len(raw))
	for id, msg := range raw {
		c, err := UnmarshalComponent(msg)
		if err != nil {
			return fmt.Errorf("component %s: %w", id, err)
		}
		if c.Common().ID == "" {
			c.Common().ID = id
		}
		if c.Common().ID != id {
			return fmt.Errorf("component %s: id mismatch %q", id, c.Common().ID)
		}
		out[id] = c
	}
	*m = out
	return nil
}

// ToMap converts a component to its generic JSON object form.
func ToMap(c Component) (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// FromMap is the inverse of ToMap.
func FromMap(m map[string]any) (Component, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return UnmarshalComponent(data)
}

// Patch is a partial component update keyed by JSON field name.
type Patch map[string]any

// ApplyPatch returns a new component with patch merged over c. The id and
// type of a component are fixed at creation; isMulti and the steps of a
// multi may be repeated but not changed.
func ApplyPatch(c Component, patch Patch) (Component, error) {
	m, err := ToMap(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode component: %w", err)
	}

	for k, v := range patch {
		switch k {
		case "id", "type":
			if fmt.Sprint(v) != fmt.Sprint(m[k]) {
				return nil, fmt.Errorf("%s: %w", k, ErrImmutableField)
			}
			continue
		case "isMulti":
			var st MultiState
			cur := c.Common().IsMulti
			if cur == "" {
				cur = MultiFalse
			}
			if err := decodePatchValue(v, &st); err != nil || st != cur {
				return nil, fmt.Errorf("%s: %w", k, ErrMembershipOutsideEdit)
			}
			continue
		case "components":
			if multi, ok := c.(*MultiComponent); ok {
				var steps []MultiStep
				if err := decodePatchValue(v, &steps); err != nil || !sameSteps(steps, multi.Components) {
					return nil, fmt.Errorf("%s: %w", k, ErrMembershipOutsideEdit)
				}
				continue
			}
		}
		m[k] = v
	}

	out, err := FromMap(m)
	if err != nil {
		return nil, fmt.Errorf("failed to apply patch: %w", err)
	}
	return out, nil
}

func decodePatchValue(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func sameSteps(a, b []MultiStep) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
