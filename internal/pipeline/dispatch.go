package pipeline

import (
	"context"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/quotedesk/internal/errors"
	"github.com/hpungsan/quotedesk/internal/mailbox"
)

// DefaultDispatchWidth is the number of concurrent sends when none is configured.
const DefaultDispatchWidth = 10

// Dispatcher sends replies with bounded parallelism. Sends are independent: a failure
// never cancels the others and nothing is retried within one call.
type Dispatcher struct {
	sender Sender
	width  int
	log    *zap.Logger

	sent   atomic.Int64
	failed atomic.Int64
}

// NewDispatcher creates a dispatcher running at most width sends at once.
func NewDispatcher(sender Sender, width int, log *zap.Logger) *Dispatcher {
	if width < 1 {
		width = DefaultDispatchWidth
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{sender: sender, width: width, log: log}
}

// SendAll sends every reply and returns the per-fingerprint result; a nil error is a success.
func (d *Dispatcher) SendAll(ctx context.Context, outgoing []*mailbox.Outgoing) map[string]error {
	results := make(map[string]error, len(outgoing))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(d.width)
	for _, out := range outgoing {
		g.Go(func() error {
			err := d.sender.Send(ctx, out)
			if err != nil {
				d.failed.Inc()
				err = errors.NewTransport("send", err)
				d.log.Warn("send failed", zap.String("fingerprint", out.Fingerprint), zap.Error(err))
			} else {
				d.sent.Inc()
				d.log.Debug("sent", zap.String("fingerprint", out.Fingerprint), zap.Strings("to", out.Recipients))
			}

			mu.Lock()
			results[out.Fingerprint] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Stats returns the number of successful and failed sends so far.
func (d *Dispatcher) Stats() (sent, failed int64) {
	return d.sent.Load(), d.failed.Load()
}
