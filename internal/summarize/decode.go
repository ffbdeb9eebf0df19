package summarize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/TobiSchelling/medbrief/internal/document"
)

// decodeSummary builds a Summary from a parsed model reply. Models do not
// follow the requested shape reliably, so lists may hold strings, objects or
// single-key maps, and some replies use the older spaced key names.
func decodeSummary(m map[string]any, docType string) *document.Summary {
	s := &document.Summary{
		Type:                 getString(m, "type", docType),
		Causes:               uniqueStrings(stringList(m["causes"])),
		KeyFindings:          uniqueStrings(stringList(first(m, "key_findings", "key findings"))),
		TreatmentMethods:     treatmentMethods(first(m, "treatment_methods", "common treatment methods", "methods")),
		TreatmentLimitations: treatmentLimitations(first(m, "treatment_limitations", "limitations of certain treatments", "limitations")),
		LatestTreatments:     latestTreatments(first(m, "latest_treatments", "latest treatments")),
	}
	if s.Type == "" {
		s.Type = docType
	}
	if len(s.KeyFindings) > document.MaxKeyFindings {
		s.KeyFindings = s.KeyFindings[:document.MaxKeyFindings]
	}
	return s
}

func first(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func getString(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return fallback
}

// scalar renders a JSON scalar as text. Years arrive as numbers or strings.
func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func stringList(v any) []string {
	switch x := v.(type) {
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return []string{s}
		}
	case []any:
		var out []string
		for _, item := range x {
			if obj, ok := item.(map[string]any); ok {
				if head, detail, ok := pair(obj); ok && head != "" {
					if detail != "" {
						head += ": " + detail
					}
					out = append(out, head)
				}
				continue
			}
			if s := scalar(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

// items flattens a list or a name-keyed map into a list of entries. Map keys
// become the "name" of the entry they point to.
func items(v any) []any {
	switch x := v.(type) {
	case []any:
		return x
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, map[string]any{k: x[k]})
		}
		return out
	case string:
		return []any{x}
	}
	return nil
}

// pair splits an entry into a head and a detail. It accepts "head: detail"
// strings, two-element arrays and single-key maps with a scalar value.
func pair(v any) (string, string, bool) {
	switch x := v.(type) {
	case string:
		head, detail, _ := strings.Cut(x, ":")
		return strings.TrimSpace(head), strings.TrimSpace(detail), true
	case []any:
		if len(x) == 0 {
			return "", "", false
		}
		if len(x) == 1 {
			return pair(x[0])
		}
		return scalar(x[0]), scalar(x[1]), true
	case map[string]any:
		if len(x) == 1 {
			for k, val := range x {
				if _, nested := val.(map[string]any); nested {
					return "", "", false
				}
				return strings.TrimSpace(k), scalar(val), true
			}
		}
	}
	return "", "", false
}

func treatmentMethods(v any) []document.TreatmentMethod {
	out := []document.TreatmentMethod{}
	seen := map[string]struct{}{}
	for _, item := range items(v) {
		var tm document.TreatmentMethod
		if obj, ok := item.(map[string]any); ok && hasAny(obj, "name", "method", "approach") {
			tm.Name = firstString(obj, "name", "method")
			tm.Approach = firstString(obj, "approach", "description")
		} else if head, detail, ok := pair(item); ok {
			tm.Name, tm.Approach = head, detail
		}
		if tm.Name == "" && tm.Approach == "" {
			continue
		}
		if !once(seen, tm.Name+"|"+tm.Approach) {
			continue
		}
		out = append(out, tm)
	}
	return out
}

func treatmentLimitations(v any) []document.TreatmentLimitation {
	out := []document.TreatmentLimitation{}
	seen := map[string]struct{}{}
	for _, item := range items(v) {
		var tl document.TreatmentLimitation
		if obj, ok := item.(map[string]any); ok && hasAny(obj, "limitation", "alternative") {
			tl.Limitation = firstString(obj, "limitation")
			tl.Alternative = firstString(obj, "alternative", "alternative_treatment")
		} else if head, detail, ok := pair(item); ok {
			tl.Limitation, tl.Alternative = head, detail
		}
		if tl.Limitation == "" {
			continue
		}
		if !once(seen, tl.Limitation) {
			continue
		}
		out = append(out, tl)
	}
	return out
}

func latestTreatments(v any) []document.LatestTreatment {
	out := []document.LatestTreatment{}
	seen := map[string]struct{}{}
	for _, item := range items(v) {
		lt, ok := latestTreatment(item)
		if !ok || !once(seen, lt.Name) {
			continue
		}
		out = append(out, lt)
	}
	return out
}

func latestTreatment(item any) (document.LatestTreatment, bool) {
	var lt document.LatestTreatment
	switch x := item.(type) {
	case string:
		lt.Name = strings.TrimSpace(x)
	case map[string]any:
		if hasAny(x, "name", "institution", "approach", "year", "approval_status") {
			fillLatest(&lt, x)
			break
		}
		// {"treatment name": {details}}
		if len(x) == 1 {
			for k, val := range x {
				lt.Name = strings.TrimSpace(k)
				switch d := val.(type) {
				case map[string]any:
					fillLatest(&lt, d)
				case []any:
					for _, part := range d {
						if pm, ok := part.(map[string]any); ok {
							fillLatest(&lt, pm)
						}
					}
				default:
					lt.Approach = scalar(val)
				}
			}
		}
	}
	return lt, lt.Name != ""
}

func fillLatest(lt *document.LatestTreatment, m map[string]any) {
	if s := firstString(m, "name", "treatment"); s != "" {
		lt.Name = s
	}
	if s := firstString(m, "institution", "proposed institution", "proposed_institution"); s != "" {
		lt.Institution = s
	}
	if s := firstString(m, "year", "year of proposal", "year_of_proposal"); s != "" {
		lt.Year = s
	}
	if s := firstString(m, "approval_status", "approved_for_use", "approved for use"); s != "" {
		lt.ApprovalStatus = s
	}
	if s := firstString(m, "approach", "treatment approach", "treatment_approach"); s != "" {
		lt.Approach = s
	}
}

func hasAny(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s := scalar(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func once(seen map[string]struct{}, key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if _, ok := seen[key]; ok {
		return false
	}
	seen[key] = struct{}{}
	return true
}
