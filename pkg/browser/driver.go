// Package browser abstracts the automation driver behind small interfaces
// and implements locator resolution on top of them. The production driver
// is go-rod; tests substitute fakes.
package browser

import (
	"context"
	"time"
)

// Box is an element's bounding rectangle in page coordinates.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Element is a handle to one located page element.
type Element interface {
	Click(ctx context.Context) error
	Fill(ctx context.Context, value string) error
	Press(ctx context.Context, key string) error
	Visible(ctx context.Context) (bool, error)
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	ScrollIntoView(ctx context.Context) error
	BoundingBox(ctx context.Context) (*Box, error)
}

// Driver is the capability set this subsystem needs from a browser
// automation backend. One Driver owns one exclusive browser session.
type Driver interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitForLoadState(ctx context.Context, state string, timeout time.Duration) error
	QuerySelectorAll(ctx context.Context, selector string) ([]Element, error)
	QueryText(ctx context.Context, text string) ([]Element, error)
	QueryXPath(ctx context.Context, xpath string) ([]Element, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Eval(ctx context.Context, js string) (any, error)
	Press(ctx context.Context, key string) error
	ClickAt(ctx context.Context, x, y float64) error
	ScrollBy(ctx context.Context, dx, dy float64) error
	Close() error
}

// Load-state names accepted by WaitForLoadState.
const (
	LoadStateLoad             = "load"
	LoadStateDOMContentLoaded = "domcontentloaded"
	LoadStateNetworkIdle      = "networkidle"
)

// TextVisible reports whether any element containing text is currently
// visible. Query errors count as "not visible" rather than failing the
// caller; the predicates built on this are advisory checks.
func TextVisible(ctx context.Context, d Driver, text string) (bool, error) {
	els, err := d.QueryText(ctx, text)
	if err != nil {
		return false, err
	}
	for _, el := range els {
		if vis, err := el.Visible(ctx); err == nil && vis {
			return true, nil
		}
	}
	return false, nil
}

// ElementVisible reports whether any element matching selector is visible.
func ElementVisible(ctx context.Context, d Driver, selector string) (bool, error) {
	els, err := d.QuerySelectorAll(ctx, selector)
	if err != nil {
		return false, err
	}
	for _, el := range els {
		if vis, err := el.Visible(ctx); err == nil && vis {
			return true, nil
		}
	}
	return false, nil
}
