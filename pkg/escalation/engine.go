// Package escalation implements the progressive element-location ladder:
// an ordered chain of strategies tried left to right, ending in
// vision-assisted lookup, with a distinguished error when the whole chain
// is exhausted.
package escalation

import (
	"context"
	"fmt"
	"strings"

	"github.com/guyernest/step-functions-agent-sub000/pkg/browser"
	"github.com/guyernest/step-functions-agent-sub000/pkg/log"
	"github.com/guyernest/step-functions-agent-sub000/pkg/script"
	"github.com/guyernest/step-functions-agent-sub000/pkg/vision"
)

// ExhaustedError reports that every strategy in an escalation chain failed.
// Callers branch on this differently from a single-strategy failure.
type ExhaustedError struct {
	Strategies []string
	LastErr    error
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("escalation chain exhausted after %d strategies (%s)",
		len(e.Strategies), strings.Join(e.Strategies, " -> "))
	if e.LastErr != nil {
		msg += ": last error: " + e.LastErr.Error()
	}
	return msg
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// Resolution is the outcome of a successful escalation: either a live
// element handle or a coordinate payload the caller can act on directly.
type Resolution struct {
	Method  string
	Element browser.Element
	X, Y    float64
}

const (
	MethodElement     = "element"
	MethodCoordinates = "coordinates"
)

// Finder is the vision lookup capability the engine escalates to.
type Finder interface {
	FindElement(ctx context.Context, prompt string) (*vision.Match, error)
}

// Stats accumulates escalation counters across one run.
type Stats struct {
	Attempts  map[string]int `json:"attempts"`
	Successes map[string]int `json:"successes"`
	Failures  map[string]int `json:"failures"`
	MaxDepth  int            `json:"max_depth"`
	Exhausted int            `json:"exhausted"`
}

// Engine executes escalation chains against one browser session.
type Engine struct {
	driver browser.Driver
	finder Finder
	logger log.Logger
	stats  Stats
}

func NewEngine(driver browser.Driver, finder Finder, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		driver: driver,
		finder: finder,
		logger: logger,
		stats: Stats{
			Attempts:  make(map[string]int),
			Successes: make(map[string]int),
			Failures:  make(map[string]int),
		},
	}
}

// Execute iterates the chain in order. The first strategy producing a
// usable resolution short-circuits; full exhaustion yields ExhaustedError.
func (e *Engine) Execute(ctx context.Context, chain []script.EscalationStrategy) (*Resolution, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("empty escalation chain")
	}

	var (
		tried   []string
		lastErr error
	)
	for depth, strat := range chain {
		tried = append(tried, strat.Method)
		e.stats.Attempts[strat.Method]++
		if depth+1 > e.stats.MaxDepth {
			e.stats.MaxDepth = depth + 1
		}

		res, err := e.tryStrategy(ctx, &strat)
		if err != nil {
			e.stats.Failures[strat.Method]++
			e.logger.Debug().
				Str("strategy", strat.Method).
				Int("depth", depth+1).
				Str("error", err.Error()).
				Msg("Escalation strategy failed, trying next")
			lastErr = err
			continue
		}

		e.stats.Successes[strat.Method]++
		e.logger.Debug().
			Str("strategy", strat.Method).
			Int("depth", depth+1).
			Msg("Escalation strategy succeeded")
		return res, nil
	}

	e.stats.Exhausted++
	return nil, &ExhaustedError{Strategies: tried, LastErr: lastErr}
}

func (e *Engine) tryStrategy(ctx context.Context, strat *script.EscalationStrategy) (*Resolution, error) {
	switch strat.Method {
	case script.EscalationLocator:
		el, err := browser.Resolve(ctx, e.driver, strat.Locator)
		if err != nil {
			return nil, err
		}
		return &Resolution{Method: MethodElement, Element: el}, nil

	case script.EscalationText:
		els, err := e.driver.QueryText(ctx, strat.Text)
		if err != nil {
			return nil, err
		}
		for _, el := range els {
			if vis, err := el.Visible(ctx); err == nil && vis {
				return &Resolution{Method: MethodElement, Element: el}, nil
			}
		}
		return nil, fmt.Errorf("no visible element matching text %q", strat.Text)

	case script.EscalationVision:
		if e.finder == nil {
			return nil, fmt.Errorf("vision lookup requested but no vision provider is configured")
		}
		match, err := e.finder.FindElement(ctx, strat.Prompt)
		if err != nil {
			return nil, err
		}
		if !match.Found {
			return nil, fmt.Errorf("vision lookup found no match for %q", strat.Prompt)
		}
		return e.resolveMatch(ctx, match)

	default:
		return nil, fmt.Errorf("unknown escalation method %q", strat.Method)
	}
}

// resolveMatch converts a vision match into something the caller can act
// on: a live element for selector/text/index matches, raw coordinates
// otherwise.
func (e *Engine) resolveMatch(ctx context.Context, match *vision.Match) (*Resolution, error) {
	switch match.Method {
	case vision.MatchSelector:
		els, err := e.driver.QuerySelectorAll(ctx, match.Selector)
		if err != nil {
			return nil, err
		}
		if len(els) == 0 {
			return nil, fmt.Errorf("vision selector %q matched nothing", match.Selector)
		}
		return &Resolution{Method: MethodElement, Element: els[0]}, nil
	case vision.MatchText:
		els, err := e.driver.QueryText(ctx, match.Text)
		if err != nil {
			return nil, err
		}
		if len(els) == 0 {
			return nil, fmt.Errorf("vision text %q matched nothing", match.Text)
		}
		return &Resolution{Method: MethodElement, Element: els[0]}, nil
	case vision.MatchCoordinates:
		return &Resolution{Method: MethodCoordinates, X: match.X, Y: match.Y}, nil
	default:
		return nil, fmt.Errorf("vision match method %q cannot be resolved to an element", match.Method)
	}
}

// Stats returns a copy of the cumulative escalation statistics.
func (e *Engine) Stats() Stats {
	out := Stats{
		Attempts:  make(map[string]int, len(e.stats.Attempts)),
		Successes: make(map[string]int, len(e.stats.Successes)),
		Failures:  make(map[string]int, len(e.stats.Failures)),
		MaxDepth:  e.stats.MaxDepth,
		Exhausted: e.stats.Exhausted,
	}
	for k, v := range e.stats.Attempts {
		out.Attempts[k] = v
	}
	for k, v := range e.stats.Successes {
		out.Successes[k] = v
	}
	for k, v := range e.stats.Failures {
		out.Failures[k] = v
	}
	return out
}

// Used reports whether any escalation was attempted during the run.
func (e *Engine) Used() bool {
	return len(e.stats.Attempts) > 0
}
