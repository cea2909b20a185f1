package hardware

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wal-rus/lovepotion/internal/wiegand"
)

// reader moves decoded frames from the decoder to the tag handler on a
// single goroutine. Both backends embed it.
type reader struct {
	decoder *wiegand.Decoder
	logger  *slog.Logger

	mu      sync.Mutex
	handler TagSeenHandler
	cancel  context.CancelFunc
	done    chan struct{}

	// dispatchMu keeps handler invocations serial across the delivery
	// goroutine and direct presentations.
	dispatchMu sync.Mutex
}

func newReader(opts Options) *reader {
	return &reader{
		decoder: wiegand.NewDecoder(opts.Decoder, opts.Clock, opts.Logger),
		logger:  opts.Logger,
	}
}

func (r *reader) SetTagSeenHandler(h TagSeenHandler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

// DecoderStats reports frame counters for this backend's reader.
func (r *reader) DecoderStats() wiegand.Stats { return r.decoder.Stats() }

func (r *reader) start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.deliver(ctx, r.done)
}

func (r *reader) stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.decoder.Abandon()
}

func (r *reader) deliver(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case cred := <-r.decoder.Frames():
			r.credential(cred)
		}
	}
}

func (r *reader) credential(cred wiegand.Credential) {
	attrs := []any{"id", cred.ID(), "bits", cred.Bits}
	if f, ok := cred.Format26(); ok {
		attrs = append(attrs, "facility", f.Facility, "card", f.Card)
		if !f.ParityOK {
			r.logger.Warn("wiegand parity mismatch", attrs...)
		}
	}
	r.logger.Debug("frame decoded", attrs...)
	r.dispatch(cred.ID())
}

func (r *reader) dispatch(id string) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h == nil {
		r.logger.Debug("tag seen with no handler", "id", id)
		return
	}

	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	h(id)
}
