package page

import (
	"context"
	"fmt"
	"time"
)

// DefaultPollInterval is how often the Wait helpers re-query the page
const DefaultPollInterval = 200 * time.Millisecond

// Sleep pauses for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FirstVisible returns the first element matching selector in scope that is
// currently visible. Query or visibility errors count as "not found".
func FirstVisible(ctx context.Context, scope Scope, selector string) (Element, bool) {
	els, err := scope.QueryAll(ctx, selector)
	if err != nil {
		return nil, false
	}
	for _, el := range els {
		if ok, err := el.Visible(ctx); err == nil && ok {
			return el, true
		}
	}
	return nil, false
}

// CountVisible returns how many elements matching selector in scope are
// currently visible. Query errors count as none.
func CountVisible(ctx context.Context, scope Scope, selector string) int {
	els, err := scope.QueryAll(ctx, selector)
	if err != nil {
		return 0
	}
	n := 0
	for _, el := range els {
		if ok, err := el.Visible(ctx); err == nil && ok {
			n++
		}
	}
	return n
}

// Poll calls cond every interval until it reports true or timeout elapses
func Poll(ctx context.Context, timeout, interval time.Duration, cond func(context.Context) bool) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if cond(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitVisible polls scope until an element matching selector is visible or
// timeout elapses.
func WaitVisible(ctx context.Context, scope Scope, selector string, timeout, interval time.Duration) (Element, error) {
	var el Element
	err := Poll(ctx, timeout, interval, func(ctx context.Context) bool {
		var ok bool
		el, ok = FirstVisible(ctx, scope, selector)
		return ok
	})
	if err != nil {
		return nil, fmt.Errorf("wait for %q visible: %w", selector, err)
	}
	return el, nil
}
