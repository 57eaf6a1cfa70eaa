package browser

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/guyernest/step-functions-agent-sub000/pkg/script"
)

// ErrCoordinatesUnsupported is returned for the coordinates locator
// strategy. Coordinate targeting goes through the driver's ClickAt, not
// through element resolution.
var ErrCoordinatesUnsupported = fmt.Errorf("coordinates locator strategy is not supported; use an escalation chain or a coordinate click action")

// Resolve maps a locator description to a single element handle. Resolution
// failure is always an error, never a nil element.
func Resolve(ctx context.Context, d Driver, loc *script.Locator) (Element, error) {
	if loc == nil {
		return nil, fmt.Errorf("no locator provided")
	}

	var (
		els []Element
		err error
	)
	switch loc.Strategy {
	case script.StrategySelector:
		els, err = d.QuerySelectorAll(ctx, loc.Value)
	case script.StrategyXPath:
		els, err = d.QueryXPath(ctx, loc.Value)
	case script.StrategyText:
		els, err = d.QueryText(ctx, loc.Value)
	case script.StrategyRole:
		els, err = resolveRole(ctx, d, loc.Value)
	case script.StrategyFormField:
		el, err := ResolveFormField(ctx, d, loc.Label, loc.FieldType)
		if err != nil {
			return nil, err
		}
		return el, nil
	case script.StrategyCoordinates:
		return nil, ErrCoordinatesUnsupported
	default:
		return nil, fmt.Errorf("unknown locator strategy %q", loc.Strategy)
	}
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("no element found for %s locator %q", loc.Strategy, loc.Value)
	}

	if loc.Nth != nil {
		if *loc.Nth >= len(els) {
			return nil, fmt.Errorf("%s locator %q matched %d elements, nth=%d is out of range",
				loc.Strategy, loc.Value, len(els), *loc.Nth)
		}
		return els[*loc.Nth], nil
	}
	return els[0], nil
}

// roleExprRegex parses role expressions like button[name='Submit'].
var roleExprRegex = regexp.MustCompile(`^([a-zA-Z]+)(?:\[name=['"](.*)['"]\])?$`)

// nativeRoleTags maps ARIA roles to the native elements that carry them
// implicitly.
var nativeRoleTags = map[string][]string{
	"button":   {"button", `input[type="button"]`, `input[type="submit"]`},
	"link":     {"a[href]"},
	"textbox":  {`input[type="text"]`, `input:not([type])`, "textarea"},
	"checkbox": {`input[type="checkbox"]`},
	"radio":    {`input[type="radio"]`},
	"combobox": {"select"},
	"heading":  {"h1", "h2", "h3", "h4", "h5", "h6"},
	"img":      {"img"},
	"list":     {"ul", "ol"},
	"listitem": {"li"},
}

// resolveRole implements role-expression querying: the role matches either
// an explicit role attribute or a native element with that implicit role,
// and an optional accessible name narrows by aria-label or visible text.
func resolveRole(ctx context.Context, d Driver, expr string) ([]Element, error) {
	m := roleExprRegex.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return nil, fmt.Errorf("invalid role expression %q (expected role or role[name='...'])", expr)
	}
	role := strings.ToLower(m[1])
	name := m[2]

	selectors := []string{fmt.Sprintf(`[role=%q]`, role)}
	selectors = append(selectors, nativeRoleTags[role]...)

	var candidates []Element
	for _, sel := range selectors {
		els, err := d.QuerySelectorAll(ctx, sel)
		if err != nil {
			continue
		}
		candidates = append(candidates, els...)
	}
	if name == "" {
		return candidates, nil
	}

	var matched []Element
	for _, el := range candidates {
		if label, err := el.Attribute(ctx, "aria-label"); err == nil && strings.EqualFold(strings.TrimSpace(label), name) {
			matched = append(matched, el)
			continue
		}
		if text, err := el.Text(ctx); err == nil && strings.EqualFold(strings.TrimSpace(text), name) {
			matched = append(matched, el)
		}
	}
	return matched, nil
}

// Predicate evaluates a page-state predicate. An evaluation error is
// returned to the caller, which decides whether to fail open.
func EvalPredicate(ctx context.Context, d Driver, p *script.Predicate) (bool, error) {
	switch p.Condition {
	case script.PredElementVisible:
		return ElementVisible(ctx, d, p.Selector)
	case script.PredElementNotVisible:
		vis, err := ElementVisible(ctx, d, p.Selector)
		return !vis, err
	case script.PredTextVisible:
		return TextVisible(ctx, d, p.Text)
	case script.PredTextNotVisible:
		vis, err := TextVisible(ctx, d, p.Text)
		return !vis, err
	default:
		return false, fmt.Errorf("unknown predicate condition %q", p.Condition)
	}
}
