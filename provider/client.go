package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/irsalhamdi/course-reconcile/rate"
	"github.com/irsalhamdi/course-reconcile/tenant"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseDelay   time.Duration `conf:"default:500ms"`
	Multiplier  float64       `conf:"default:2"`
	MaxDelay    time.Duration `conf:"default:30s"`
	MaxAttempts int           `conf:"default:5"`
	PageTimeout time.Duration `conf:"default:20s"`
	Concurrency int           `conf:"default:4"`
	RatePerSec  float64       `conf:"default:10"`
	RateBurst   int           `conf:"default:5"`
}

// Client pages through a PageSource, retrying transient failures with
// exponential backoff.
type Client struct {
	source  PageSource
	cfg     Config
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

func NewClient(source PageSource, cfg Config, log logrus.FieldLogger) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}

	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = rate.Unlimited()
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		source:  source,
		cfg:     cfg,
		limiter: rate.NewLimiter(burst, 60, rps),
		log:     log.WithField("provider", source.Name()),
	}
}

func (c *Client) Name() string { return c.source.Name() }

func (c *Client) Statuses() StatusMap { return c.source.Statuses() }

// Fetch calls fn with every page of transactions in w, starting at from, in
// provider order. Pages are delivered one at a time; fn may stop the
// listing by returning an error. Any failure is a *FetchError holding the
// cursor right after the last page handed to fn.
func (c *Client) Fetch(ctx context.Context, t tenant.ID, w Window, from Cursor, fn func(Page) error) error {
	ctx, span := otel.Tracer("provider").Start(ctx, "provider.Fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", c.source.Name()),
		attribute.String("tenant", t.String()),
	)

	log := c.log.WithFields(logrus.Fields{"tenant": t, "window": w.String()})

	page, attempts, err := c.fetchPage(ctx, t, w, from)
	if err != nil {
		return c.fail(from, attempts, err)
	}
	if err := fn(page); err != nil {
		return err
	}
	last := page.Next

	addr, ok := c.source.(Addresser)
	if ok && page.More && page.Number > 0 && c.cfg.Concurrency > 1 {
		return c.fetchNumbered(ctx, t, w, addr, page, fn)
	}

	for page.More {
		if err := ctx.Err(); err != nil {
			return &FetchError{Cursor: last, Err: err}
		}

		page, attempts, err = c.fetchPage(ctx, t, w, last)
		if err != nil {
			return c.fail(last, attempts, err)
		}
		if err := fn(page); err != nil {
			return err
		}
		last = page.Next
		log.WithField("cursor", last).Debug("page fetched")
	}

	return nil
}

// fetchNumbered fetches the pages following first in batches of
// Concurrency, delivering them in order.
func (c *Client) fetchNumbered(ctx context.Context, t tenant.ID, w Window, addr Addresser, first Page, fn func(Page) error) error {
	last := first.Next
	if first.Number < 1 {
		return fmt.Errorf("page after cursor %q is not numbered", first.Next)
	}

	for start := first.Number + 1; start <= first.Pages; start += c.cfg.Concurrency {
		if err := ctx.Err(); err != nil {
			return &FetchError{Cursor: last, Err: err}
		}

		end := start + c.cfg.Concurrency - 1
		if end > first.Pages {
			end = first.Pages
		}

		pages := make([]Page, end-start+1)
		errs := make([]error, len(pages))
		attempts := make([]int, len(pages))

		g, gctx := errgroup.WithContext(ctx)
		for i := range pages {
			i := i
			g.Go(func() error {
				pages[i], attempts[i], errs[i] = c.fetchPage(gctx, t, w, addr.CursorAt(start+i))
				return errs[i]
			})
		}
		_ = g.Wait()

		for i, p := range pages {
			if errs[i] != nil {
				return c.fail(last, attempts[i], firstCause(errs, i))
			}
			if err := fn(p); err != nil {
				return err
			}
			last = p.Next
		}
	}

	return nil
}

// firstCause skips the cancellations errgroup triggered in sibling fetches
// after the real failure.
func firstCause(errs []error, i int) error {
	if !errors.Is(errs[i], context.Canceled) {
		return errs[i]
	}
	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return errs[i]
}

func (c *Client) fetchPage(ctx context.Context, t tenant.ID, w Window, cur Cursor) (Page, int, error) {
	var (
		page     Page
		attempts int
	)

	op := func() error {
		attempts++

		if err := c.limiter.Wait(ctx, t.String()); err != nil {
			return backoff.Permanent(err)
		}

		actx := ctx
		if c.cfg.PageTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, c.cfg.PageTimeout)
			defer cancel()
		}

		p, err := c.source.FetchPage(actx, t, w, cur)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return Retryable(err)
			}
			if !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		page = p
		return nil
	}

	notify := func(err error, d time.Duration) {
		c.log.WithFields(logrus.Fields{
			"tenant":  t,
			"cursor":  cur,
			"attempt": attempts,
			"delay":   d,
		}).Warnf("transient provider failure: %v", err)
	}

	err := backoff.RetryNotify(op, c.backOff(ctx), notify)
	return page, attempts, err
}

func (c *Client) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BaseDelay
	b.Multiplier = c.cfg.Multiplier
	b.MaxInterval = c.cfg.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1)), ctx)
}

func (c *Client) fail(cur Cursor, attempts int, err error) error {
	switch {
	case errors.Is(err, ErrAuthentication):
	case IsRetryable(err):
		err = fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &FetchError{Cursor: cur, Attempts: attempts, Err: err}
}
