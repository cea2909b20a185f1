// Package announce sends short texts to a speech box over TCP: one
// connection per message, write, close. Delivery is best effort.
package announce

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	DefaultTimeout = 2 * time.Second
	DefaultQueue   = 16
)

type Config struct {
	// Addr is host:port. Empty disables sending.
	Addr    string
	Timeout time.Duration
	Queue   int
}

// Sender delivers messages from a single goroutine so callers never wait
// on the network. Messages that do not fit in the queue are dropped.
type Sender struct {
	cfg    Config
	logger *slog.Logger
	dialer net.Dialer

	queue chan string
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func New(cfg Config, logger *slog.Logger) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Queue <= 0 {
		cfg.Queue = DefaultQueue
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Sender{
		cfg:    cfg,
		logger: logger.With("component", "announce", "addr", cfg.Addr),
		queue:  make(chan string, cfg.Queue),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s
}

// Send queues msg and returns immediately.
func (s *Sender) Send(msg string) {
	if s.cfg.Addr == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- msg:
	default:
		s.logger.Warn("announcement dropped; queue full", "msg", msg)
	}
}

// Close delivers what is queued and stops the sender.
func (s *Sender) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Sender) loop() {
	defer close(s.done)
	for msg := range s.queue {
		if err := s.deliver(msg); err != nil {
			s.logger.Warn("announce failed", "err", err)
		}
	}
}

func (s *Sender) deliver(msg string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	conn, err := s.dialer.DialContext(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.Timeout))
	if _, err := io.WriteString(conn, msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
