package browser

import (
	"context"
	"fmt"
)

// ScrollOptions selects how Scroll moves the page.
type ScrollOptions struct {
	X, Y     int
	FullPage bool
	// Script, when set, replaces the built-in scrolling expression.
	Script string
}

// ScrollScript returns the expression Scroll evaluates.
func ScrollScript(opts ScrollOptions) string {
	switch {
	case opts.Script != "":
		return opts.Script
	case opts.FullPage:
		return `window.scrollTo({top: document.body.scrollHeight, behavior: "smooth"})`
	default:
		return fmt.Sprintf(`window.scrollTo({left: %d, top: %d, behavior: "smooth"})`, opts.X, opts.Y)
	}
}

// Scroll scrolls p to a position, to the bottom, or with a custom script.
func Scroll(ctx context.Context, p Page, opts ScrollOptions) error {
	if p == nil {
		return fmt.Errorf("scroll: nil page")
	}
	if _, err := p.Evaluate(ctx, ScrollScript(opts)); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}
