package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/guyernest/step-functions-agent-sub000/pkg/browser"
	"github.com/guyernest/step-functions-agent-sub000/pkg/log"
)

// Match is the structured result of a vision element lookup.
type Match struct {
	Found        bool    `json:"match_found"`
	Method       string  `json:"match_method,omitempty"`
	Selector     string  `json:"selector,omitempty"`
	Text         string  `json:"text,omitempty"`
	Index        int     `json:"index,omitempty"`
	X            float64 `json:"x,omitempty"`
	Y            float64 `json:"y,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
	ShouldScroll bool    `json:"should_scroll,omitempty"`
}

// Match methods for follow-up actions.
const (
	MatchSelector    = "selector"
	MatchText        = "text"
	MatchIndex       = "index"
	MatchCoordinates = "coordinates"
)

// listItemSelectors are tried in order when a follow-up action targets a
// positional index within a list-like container.
var listItemSelectors = []string{
	"li",
	`[role="listitem"]`,
	".list-item",
	".result",
	"tr",
	".card",
}

// Extractor captures screenshots and turns them into structured data or
// element matches via a vision-capable LLM provider.
type Extractor struct {
	driver   browser.Driver
	provider Provider
	logger   log.Logger
}

func NewExtractor(driver browser.Driver, provider Provider, logger log.Logger) *Extractor {
	if logger == nil {
		logger = log.Nop()
	}
	return &Extractor{driver: driver, provider: provider, logger: logger}
}

// Extract captures a full-page screenshot and asks the provider to read it.
// With a schema, JSON-mode output is requested, parsed, and validated
// against the schema; malformed JSON is a hard failure. Without a schema
// the raw text response is returned.
func (x *Extractor) Extract(ctx context.Context, prompt string, schema map[string]any) (any, error) {
	shot, err := x.driver.Screenshot(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot for extraction: %w", err)
	}

	req := Request{
		Prompt:   prompt,
		ImagePNG: shot,
		JSONMode: schema != nil,
	}
	if schema != nil {
		schemaJSON, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("marshaling extraction schema: %w", err)
		}
		req.Prompt = fmt.Sprintf("%s\n\nRespond with a JSON object matching this schema:\n%s", prompt, schemaJSON)
	}

	x.logger.Debug().Str("provider", x.provider.Name()).Msg("Sending vision extraction request")
	raw, err := x.provider.Completion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision extraction call: %w", err)
	}

	if schema == nil {
		return raw, nil
	}

	var data any
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &data); err != nil {
		return nil, fmt.Errorf("vision response is not valid JSON: %w", err)
	}
	if err := validateAgainstSchema(data, schema); err != nil {
		return nil, fmt.Errorf("vision response does not match schema: %w", err)
	}
	return data, nil
}

// FindElement asks the provider to locate an element on the current page
// and describe how to reach it.
func (x *Extractor) FindElement(ctx context.Context, prompt string) (*Match, error) {
	shot, err := x.driver.Screenshot(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot for element lookup: %w", err)
	}

	fullPrompt := fmt.Sprintf(`Find the element described as: %s

Respond with a JSON object:
{
  "match_found": true or false,
  "match_method": "selector" | "text" | "index" | "coordinates",
  "selector": "<css selector when match_method is selector>",
  "text": "<visible text when match_method is text>",
  "index": <0-based position when match_method is index>,
  "x": <pixel x when match_method is coordinates>,
  "y": <pixel y when match_method is coordinates>,
  "confidence": <0.0 to 1.0>
}`, prompt)

	raw, err := x.provider.Completion(ctx, Request{
		Prompt:   fullPrompt,
		ImagePNG: shot,
		JSONMode: true,
	})
	if err != nil {
		return nil, fmt.Errorf("vision element lookup call: %w", err)
	}

	var match Match
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &match); err != nil {
		return nil, fmt.Errorf("vision element response is not valid JSON: %w", err)
	}
	return &match, nil
}

// ExecuteFollowUp runs the action an extraction result requested: an
// optional scroll-and-settle, then a click resolved by the match method.
func (x *Extractor) ExecuteFollowUp(ctx context.Context, match *Match) error {
	if !match.Found {
		return fmt.Errorf("follow-up requested but no match was found")
	}

	if match.ShouldScroll {
		if err := x.driver.ScrollBy(ctx, 0, 400); err != nil {
			return fmt.Errorf("scrolling before follow-up action: %w", err)
		}
		time.Sleep(300 * time.Millisecond)
	}

	switch match.Method {
	case MatchSelector:
		els, err := x.driver.QuerySelectorAll(ctx, match.Selector)
		if err != nil {
			return fmt.Errorf("resolving follow-up selector %q: %w", match.Selector, err)
		}
		if len(els) == 0 {
			return fmt.Errorf("follow-up selector %q matched nothing", match.Selector)
		}
		return els[0].Click(ctx)
	case MatchText:
		els, err := x.driver.QueryText(ctx, match.Text)
		if err != nil {
			return fmt.Errorf("resolving follow-up text %q: %w", match.Text, err)
		}
		if len(els) == 0 {
			return fmt.Errorf("follow-up text %q matched nothing", match.Text)
		}
		return els[0].Click(ctx)
	case MatchIndex:
		for _, sel := range listItemSelectors {
			els, err := x.driver.QuerySelectorAll(ctx, sel)
			if err != nil || match.Index >= len(els) {
				continue
			}
			return els[match.Index].Click(ctx)
		}
		return fmt.Errorf("no list-like container had an item at index %d", match.Index)
	case MatchCoordinates:
		return x.driver.ClickAt(ctx, match.X, match.Y)
	default:
		return fmt.Errorf("unknown follow-up match method %q", match.Method)
	}
}

// MatchFromExtraction interprets a schema extraction result as a Match when
// the step requested execute_action.
func MatchFromExtraction(data any) (*Match, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("re-encoding extraction result: %w", err)
	}
	var match Match
	if err := json.Unmarshal(b, &match); err != nil {
		return nil, fmt.Errorf("extraction result is not an action match: %w", err)
	}
	return &match, nil
}

func validateAgainstSchema(data any, schema map[string]any) error {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("extract.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("extract.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return sch.Validate(data)
}

// stripCodeFence removes a markdown code fence some models wrap around
// JSON-mode output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
