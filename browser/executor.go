package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/viewsync/frame"
)

// keyNames maps action key names to CDP key definitions. Single-rune names
// fall back to text insertion.
var keyNames = map[string]input.Key{
	"enter":      input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"arrowup":    input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
	"home":       input.Home,
	"end":        input.End,
}

// Executor translates viewsync actions into rod input-injection calls
// against a single page.
type Executor struct {
	page   *rod.Page
	logger *slog.Logger
}

// NewExecutor creates an Executor for an already-open page.
func NewExecutor(page *rod.Page, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{page: page, logger: logger}
}

// Execute performs one action. Satisfies frame.Executor.
func (e *Executor) Execute(ctx context.Context, a frame.Action) error {
	page := e.page.Context(ctx)

	switch a.Kind {
	case frame.Click:
		if err := page.Mouse.MoveTo(proto.Point{X: a.X, Y: a.Y}); err != nil {
			return fmt.Errorf("browser: move to (%v,%v): %w", a.X, a.Y, err)
		}
		if err := page.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("browser: click: %w", err)
		}

	case frame.Type:
		if err := page.InsertText(a.Text); err != nil {
			return fmt.Errorf("browser: insert text: %w", err)
		}

	case frame.Scroll:
		if err := page.Mouse.Scroll(a.X, a.Y, 1); err != nil {
			return fmt.Errorf("browser: scroll: %w", err)
		}

	case frame.Drag:
		if err := page.Mouse.MoveTo(proto.Point{X: a.X, Y: a.Y}); err != nil {
			return fmt.Errorf("browser: drag origin: %w", err)
		}
		if err := page.Mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("browser: drag down: %w", err)
		}
		if err := page.Mouse.MoveTo(proto.Point{X: a.ToX, Y: a.ToY}); err != nil {
			return fmt.Errorf("browser: drag move: %w", err)
		}
		if err := page.Mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("browser: drag up: %w", err)
		}

	case frame.Key:
		k, ok := keyNames[a.Text]
		if !ok {
			runes := []rune(a.Text)
			if len(runes) != 1 {
				return fmt.Errorf("browser: unknown key %q", a.Text)
			}
			return page.InsertText(a.Text)
		}
		if err := page.Keyboard.Type(k); err != nil {
			return fmt.Errorf("browser: key %q: %w", a.Text, err)
		}

	case frame.Wait:
		d := a.Duration
		if d <= 0 {
			d = 100 * time.Millisecond
		}
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}

	case frame.Screenshot:
		// On-demand snapshots are served by the source; nothing to inject.

	default:
		return fmt.Errorf("browser: unsupported action kind %q", a.Kind)
	}

	return nil
}
