package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Options configures a rod browser session.
type Options struct {
	Headless    bool
	UserDataDir string
	NoSandbox   bool
	Viewport    *Viewport
}

type Viewport struct {
	Width  int
	Height int
}

// RodDriver drives a Chromium page through go-rod. It owns the launcher,
// browser, and page for one run and tears them all down in Close.
type RodDriver struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

var _ Driver = (*RodDriver)(nil)

// Launch starts a browser and opens a blank page.
func Launch(opts Options) (*RodDriver, error) {
	l := launcher.New().
		Headless(opts.Headless).
		NoSandbox(opts.NoSandbox)
	if opts.UserDataDir != "" {
		l = l.UserDataDir(opts.UserDataDir)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("creating page: %w", err)
	}

	if opts.Viewport != nil {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.Viewport.Width,
			Height:            opts.Viewport.Height,
			DeviceScaleFactor: 1.0,
			Mobile:            false,
		})
		if err != nil {
			_ = b.Close()
			l.Kill()
			l.Cleanup()
			return nil, fmt.Errorf("setting viewport: %w", err)
		}
	}

	return &RodDriver{launcher: l, browser: b, page: page}, nil
}

func (d *RodDriver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	p := d.page.Context(ctx).Timeout(timeout)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigating to %q: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("waiting for %q to load: %w", url, err)
	}
	// Settle network activity; animated pages may never go fully idle, so
	// an idle timeout is not a navigation failure.
	_ = p.WaitIdle(timeout)
	return nil
}

func (d *RodDriver) WaitForLoadState(ctx context.Context, state string, timeout time.Duration) error {
	p := d.page.Context(ctx).Timeout(timeout)
	switch state {
	case LoadStateNetworkIdle:
		if err := p.WaitLoad(); err != nil {
			return fmt.Errorf("waiting for load: %w", err)
		}
		return p.WaitIdle(timeout)
	case LoadStateDOMContentLoaded:
		return p.WaitDOMStable(300*time.Millisecond, 0)
	case LoadStateLoad, "":
		return p.WaitLoad()
	default:
		return fmt.Errorf("unknown load state %q", state)
	}
}

func (d *RodDriver) QuerySelectorAll(ctx context.Context, selector string) ([]Element, error) {
	els, err := d.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("querying %q: %w", selector, err)
	}
	return wrapElements(els), nil
}

func (d *RodDriver) QueryText(ctx context.Context, text string) ([]Element, error) {
	xpath := fmt.Sprintf(`//*[contains(normalize-space(.), %s) and not(.//*[contains(normalize-space(.), %s)])]`,
		xpathLiteral(text), xpathLiteral(text))
	return d.QueryXPath(ctx, xpath)
}

func (d *RodDriver) QueryXPath(ctx context.Context, xpath string) ([]Element, error) {
	els, err := d.page.Context(ctx).ElementsX(xpath)
	if err != nil {
		return nil, fmt.Errorf("querying xpath %q: %w", xpath, err)
	}
	return wrapElements(els), nil
}

func (d *RodDriver) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	p := d.page.Context(ctx)
	data, err := p.Screenshot(fullPage, nil)
	if err != nil {
		return nil, fmt.Errorf("taking screenshot: %w", err)
	}
	return data, nil
}

func (d *RodDriver) Eval(ctx context.Context, js string) (any, error) {
	result, err := d.page.Context(ctx).Eval(js)
	if err != nil {
		return nil, fmt.Errorf("evaluating script: %w", err)
	}
	return result.Value.Val(), nil
}

func (d *RodDriver) Press(ctx context.Context, key string) error {
	k, err := keyFromName(key)
	if err != nil {
		return err
	}
	if err := d.page.Context(ctx).Keyboard.Press(k); err != nil {
		return fmt.Errorf("pressing %q: %w", key, err)
	}
	return nil
}

func (d *RodDriver) ClickAt(ctx context.Context, x, y float64) error {
	p := d.page.Context(ctx)

	events := []proto.InputDispatchMouseEventType{
		proto.InputDispatchMouseEventTypeMouseMoved,
		proto.InputDispatchMouseEventTypeMousePressed,
		proto.InputDispatchMouseEventTypeMouseReleased,
	}
	for _, typ := range events {
		clickCount := 1
		if typ == proto.InputDispatchMouseEventTypeMouseMoved {
			clickCount = 0
		}
		err := proto.InputDispatchMouseEvent{
			Type:       typ,
			X:          x,
			Y:          y,
			Button:     proto.InputMouseButtonLeft,
			ClickCount: clickCount,
		}.Call(p)
		if err != nil {
			return fmt.Errorf("dispatching mouse event at (%.0f,%.0f): %w", x, y, err)
		}
	}
	return nil
}

func (d *RodDriver) ScrollBy(ctx context.Context, dx, dy float64) error {
	if err := d.page.Context(ctx).Mouse.Scroll(dx, dy, 1); err != nil {
		return fmt.Errorf("scrolling by (%.0f,%.0f): %w", dx, dy, err)
	}
	return nil
}

func (d *RodDriver) Close() error {
	var firstErr error
	if d.page != nil {
		if err := d.page.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.launcher != nil {
		d.launcher.Kill()
		d.launcher.Cleanup()
	}
	return firstErr
}

// rodElement adapts *rod.Element to the Element interface.
type rodElement struct {
	el *rod.Element
}

func wrapElements(els rod.Elements) []Element {
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = &rodElement{el: el}
	}
	return out
}

func (e *rodElement) Click(ctx context.Context) error {
	el := e.el.Context(ctx)
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("scrolling element into view: %w", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("clicking element: %w", err)
	}
	return nil
}

func (e *rodElement) Fill(ctx context.Context, value string) error {
	el := e.el.Context(ctx)
	if err := el.Focus(); err != nil {
		return fmt.Errorf("focusing element: %w", err)
	}
	// Clear existing content before typing.
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("filling element: %w", err)
	}
	return nil
}

func (e *rodElement) Press(ctx context.Context, key string) error {
	k, err := keyFromName(key)
	if err != nil {
		return err
	}
	el := e.el.Context(ctx)
	if err := el.Focus(); err != nil {
		return fmt.Errorf("focusing element: %w", err)
	}
	return e.el.Page().Context(ctx).Keyboard.Press(k)
}

func (e *rodElement) Visible(ctx context.Context) (bool, error) {
	return e.el.Context(ctx).Visible()
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, error) {
	val, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", err
	}
	if val == nil {
		return "", nil
	}
	return *val, nil
}

func (e *rodElement) ScrollIntoView(ctx context.Context) error {
	return e.el.Context(ctx).ScrollIntoView()
}

func (e *rodElement) BoundingBox(ctx context.Context) (*Box, error) {
	shape, err := e.el.Context(ctx).Shape()
	if err != nil {
		return nil, fmt.Errorf("getting element shape: %w", err)
	}
	box := shape.Box()
	if box == nil {
		return nil, fmt.Errorf("element has no box")
	}
	return &Box{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

// keyFromName maps a key name to a rod input key. Single characters map
// directly; common named keys have explicit entries.
func keyFromName(name string) (input.Key, error) {
	switch strings.ToLower(name) {
	case "enter", "return":
		return input.Enter, nil
	case "tab":
		return input.Tab, nil
	case "escape", "esc":
		return input.Escape, nil
	case "backspace":
		return input.Backspace, nil
	case "delete":
		return input.Delete, nil
	case "arrowup", "up":
		return input.ArrowUp, nil
	case "arrowdown", "down":
		return input.ArrowDown, nil
	case "arrowleft", "left":
		return input.ArrowLeft, nil
	case "arrowright", "right":
		return input.ArrowRight, nil
	case "pageup":
		return input.PageUp, nil
	case "pagedown":
		return input.PageDown, nil
	case "home":
		return input.Home, nil
	case "end":
		return input.End, nil
	case "space", " ":
		return input.Space, nil
	}
	runes := []rune(name)
	if len(runes) == 1 {
		return input.Key(runes[0]), nil
	}
	return 0, fmt.Errorf("unknown key %q", name)
}

// xpathLiteral quotes s as an XPath string literal, handling embedded
// quotes via concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, `'`)
	quoted := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if part != "" {
			quoted = append(quoted, `'`+part+`'`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
