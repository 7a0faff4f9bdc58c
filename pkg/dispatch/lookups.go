package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"mehranbot/pkg/price"
)

// resolveLookups answers every key concurrently and joins one line per key
// in input order. Individual failures only affect their own line.
func (e *Engine) resolveLookups(ctx context.Context, req *Request, keys []string) string {
	lines := make([]string, len(keys))

	var g errgroup.Group
	g.SetLimit(e.opts.LookupConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			lines[i] = e.lookupLine(ctx, req, key)
			return nil
		})
	}
	_ = g.Wait()

	return strings.Join(lines, "\n")
}

func (e *Engine) lookupLine(ctx context.Context, req *Request, key string) (line string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			req.log.Error("Price lookup panicked", "symbol", key, "panic", recovered)
			line = fmt.Sprintf("%s: price lookup failed, try again later.", key)
		}
	}()

	value, err := e.cache.GetOrFetch(ctx, key, e.deps.Prices.Fetch)
	switch {
	case err == nil:
		return fmt.Sprintf("%s price: %s", key, formatPrice(value))
	case errors.Is(err, price.ErrUnknownSymbol):
		return fmt.Sprintf("No price found for %s.", key)
	case errors.Is(err, price.ErrRateLimited):
		req.log.Warn("Price source rate limited", "symbol", key)
		return fmt.Sprintf("%s: rate limited, try again later.", key)
	default:
		req.log.Warn("Price lookup failed", "symbol", key, "error", err)
		return fmt.Sprintf("%s: price lookup failed, try again later.", key)
	}
}

// formatPrice drops float noise beyond four decimals and trailing zeros.
func formatPrice(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e4)/1e4, 'f', -1, 64)
}
