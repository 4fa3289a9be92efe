package browser

import "context"

// CombineContext returns a context carrying the values of tab (the chromedp
// target) that is canceled when either tab or op is done. chromedp reads the
// target from context values, so operations must derive from the tab context
// while still honoring the caller's deadline.
func CombineContext(tab, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(tab)
	stop := context.AfterFunc(op, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
