package browser

import (
	"context"
	"fmt"
	"strings"
)

// fieldCandidate is one strategy in the form-field search ladder.
type fieldCandidate struct {
	name  string
	xpath bool
	query string
}

// ResolveFormField locates a form field by its human-readable label. The
// candidate ladder is precision-first: structural and ID-based matches are
// tried before fuzzy text-proximity matches, so pages with repeated label
// text resolve to the structurally-associated field. The first candidate
// whose element is currently visible wins.
func ResolveFormField(ctx context.Context, d Driver, label, fieldType string) (Element, error) {
	if fieldType == "" {
		fieldType = "input"
	}

	var tried []string
	seen := make(map[string]struct{})
	for _, cand := range formFieldCandidates(label, fieldType) {
		if _, ok := seen[cand.name]; !ok {
			seen[cand.name] = struct{}{}
			tried = append(tried, cand.name)
		}

		var (
			els []Element
			err error
		)
		if cand.xpath {
			els, err = d.QueryXPath(ctx, cand.query)
		} else {
			els, err = d.QuerySelectorAll(ctx, cand.query)
		}
		if err != nil {
			continue
		}
		for _, el := range els {
			if vis, err := el.Visible(ctx); err == nil && vis {
				return el, nil
			}
		}
	}

	return nil, fmt.Errorf("could not find form field for label %q (field type %q); tried strategies: %s",
		label, fieldType, strings.Join(tried, ", "))
}

// formFieldCandidates produces the ranked candidate list for one label.
func formFieldCandidates(label, fieldType string) []fieldCandidate {
	lower := strings.ToLower(strings.TrimSpace(label))
	collapsed := strings.Join(strings.Fields(lower), " ")
	idVariants := uniqueStrings([]string{
		strings.ReplaceAll(collapsed, " ", ""),
		strings.ReplaceAll(collapsed, " ", "_"),
		strings.ReplaceAll(collapsed, " ", "-"),
		strings.ReplaceAll(collapsed, "_", "-"),
		strings.ReplaceAll(collapsed, "-", "_"),
	})
	labelLit := xpathLiteral(label)

	var cands []fieldCandidate

	// 1. Normalized label as element id.
	for _, id := range idVariants {
		cands = append(cands, fieldCandidate{
			name:  "id",
			query: fmt.Sprintf("%s#%s", fieldType, cssEscape(id)),
		})
	}

	// 2. name attribute, exact then substring.
	for _, id := range idVariants {
		cands = append(cands, fieldCandidate{
			name:  "name-exact",
			query: fmt.Sprintf(`%s[name=%q]`, fieldType, id),
		})
	}
	for _, id := range idVariants {
		cands = append(cands, fieldCandidate{
			name:  "name-substring",
			query: fmt.Sprintf(`%s[name*=%q]`, fieldType, id),
		})
	}

	// 3. Placeholder substring, case-insensitive.
	cands = append(cands, fieldCandidate{
		name:  "placeholder",
		query: fmt.Sprintf(`%s[placeholder*=%q i]`, fieldType, collapsed),
	})

	// 4. Angular Material wrappers.
	cands = append(cands, fieldCandidate{
		name:  "angular-material",
		xpath: true,
		query: fmt.Sprintf(`//mat-form-field[.//mat-label[contains(normalize-space(.), %s)]]//%s`, labelLit, fieldType),
	}, fieldCandidate{
		name:  "angular-material-label",
		xpath: true,
		query: fmt.Sprintf(`//mat-form-field[.//label[contains(normalize-space(.), %s)]]//%s`, labelLit, fieldType),
	})

	// 5. Material-UI wrappers.
	cands = append(cands, fieldCandidate{
		name:  "mui",
		xpath: true,
		query: fmt.Sprintf(`//*[contains(@class, "MuiFormControl-root") or contains(@class, "MuiTextField-root")][.//label[contains(normalize-space(.), %s)]]//%s`, labelLit, fieldType),
	})

	// 6. Field directly following or sibling to the label.
	cands = append(cands, fieldCandidate{
		name:  "label-adjacent",
		xpath: true,
		query: fmt.Sprintf(`//label[contains(normalize-space(.), %s)]/following-sibling::%s[1]`, labelLit, fieldType),
	}, fieldCandidate{
		name:  "label-descendant",
		xpath: true,
		query: fmt.Sprintf(`//label[contains(normalize-space(.), %s)]//%s`, labelLit, fieldType),
	})

	// 7. label[for] resolved to its target id.
	cands = append(cands, fieldCandidate{
		name:  "label-for",
		xpath: true,
		query: fmt.Sprintf(`//%s[@id = //label[contains(normalize-space(.), %s)]/@for]`, fieldType, labelLit),
	})

	// 8. aria-label substring.
	cands = append(cands, fieldCandidate{
		name:  "aria-label",
		query: fmt.Sprintf(`%s[aria-label*=%q i]`, fieldType, collapsed),
	})

	// 9. Generic wrapper class patterns.
	for _, class := range []string{"form-field", "form-group", "field"} {
		cands = append(cands, fieldCandidate{
			name:  "wrapper-class",
			xpath: true,
			query: fmt.Sprintf(`//*[contains(@class, %q)][contains(normalize-space(.), %s)]//%s`, class, labelLit, fieldType),
		})
	}

	// 10. Broad text proximity: any container mentioning the label, nearest
	// descendant field. Last because it is the most false-positive-prone.
	cands = append(cands, fieldCandidate{
		name:  "text-proximity",
		xpath: true,
		query: fmt.Sprintf(`//*[contains(normalize-space(.), %s)]//%s`, labelLit, fieldType),
	})

	return cands
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// cssEscape escapes characters that would break a CSS id selector.
func cssEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteString(fmt.Sprintf(`\%c`, r))
		}
	}
	return b.String()
}
