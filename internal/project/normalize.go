package project

import (
	"fmt"
	"sort"

	"github.com/KevinKickass/OpenPanelCore/internal/types"
)

type Severity string

const (
	SevError   Severity = "error"
	SevWarning Severity = "warning"
)

type Issue struct {
	Code        string         `json:"code"`
	Severity    Severity       `json:"severity"`
	Message     string         `json:"message"`
	ComponentID string         `json:"component_id,omitempty"`
	Path        string         `json:"path,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

type Report struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

func (r *Report) addError(i Issue) {
	i.Severity = SevError
	r.Errors = append(r.Errors, i)
}

func (r *Report) addWarning(i Issue) {
	i.Severity = SevWarning
	r.Warnings = append(r.Warnings, i)
}

func (r *Report) finalize() {
	if r.Errors == nil {
		r.Errors = []Issue{}
	}
	if r.Warnings == nil {
		r.Warnings = []Issue{}
	}
	r.Valid = len(r.Errors) == 0
}

// Normalize brings a loaded document back to a committed state. Pending
// membership left by an interrupted edit is rolled back, components
// referenced by a multi are marked as members, and page lists are checked
// against the component map. Every repair is reported as a warning.
func Normalize(doc *Document) Report {
	rep := Report{}

	ids := make([]string, 0, len(doc.Components))
	for id := range doc.Components {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		b := doc.Components[id].Common()
		switch b.IsMulti {
		case types.MultiPendingSave:
			b.IsMulti = types.MultiFalse
		case types.MultiPendingDelete:
			b.IsMulti = types.MultiTrue
		default:
			continue
		}
		rep.addWarning(Issue{
			Code:        "MULTI_001",
			Message:     "Pending membership from an unfinished edit was rolled back",
			ComponentID: id,
			Path:        fmt.Sprintf("/components/%s/isMulti", id),
		})
	}

	for _, id := range ids {
		m, ok := doc.Components[id].(*types.MultiComponent)
		if !ok {
			continue
		}
		for i, step := range m.Components {
			path := fmt.Sprintf("/components/%s/components/%d/component", id, i)
			member, ok := doc.Components[step.Component]
			if !ok {
				rep.addWarning(Issue{
					Code:        "MULTI_002",
					Message:     fmt.Sprintf("Step references unknown component %s", step.Component),
					ComponentID: id,
					Path:        path,
					Meta:        map[string]any{"step_index": i},
				})
				continue
			}
			if !types.IsMultiOption(member) {
				rep.addError(Issue{
					Code:        "MULTI_003",
					Message:     fmt.Sprintf("Component %s of type %s cannot be a multi member", step.Component, member.Kind()),
					ComponentID: id,
					Path:        path,
					Meta:        map[string]any{"step_index": i},
				})
				continue
			}
			if mb := member.Common(); mb.IsMulti != types.MultiTrue {
				mb.IsMulti = types.MultiTrue
				rep.addWarning(Issue{
					Code:        "MULTI_004",
					Message:     "Multi member was not marked as a member",
					ComponentID: step.Component,
					Path:        fmt.Sprintf("/components/%s/isMulti", step.Component),
				})
			}
		}
	}

	seen := make(map[string]bool, len(ids))
	for p := range doc.Pages {
		for _, id := range doc.Pages[p].Components {
			if _, ok := doc.Components[id]; !ok {
				rep.addWarning(Issue{
					Code:        "PAGE_001",
					Message:     fmt.Sprintf("Page lists unknown component %s", id),
					ComponentID: id,
					Path:        fmt.Sprintf("/pages/%d/components", p),
				})
				continue
			}
			if seen[id] {
				rep.addWarning(Issue{
					Code:        "PAGE_002",
					Message:     "Component is listed on more than one page",
					ComponentID: id,
					Path:        fmt.Sprintf("/pages/%d/components", p),
				})
			}
			seen[id] = true
		}
	}
	if len(doc.Pages) > 0 && (doc.CurrentPage < 0 || doc.CurrentPage >= len(doc.Pages)) {
		rep.addWarning(Issue{
			Code:    "PAGE_003",
			Message: fmt.Sprintf("currentPage %d is out of range", doc.CurrentPage),
			Path:    "/currentPage",
		})
		doc.CurrentPage = 0
	}

	rep.finalize()
	return rep
}
