// Package shutdown ties a command's lifetime to process signals and runs
// registered cleanups when the command ends.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/PentesterFlow/nodeprobe/internal/logger"
)

// Cleanup is a function run during shutdown.
type Cleanup func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	Timeout time.Duration // Budget for all cleanups together
	Signals []os.Signal
	Log     *logger.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// Handler cancels its context on the first signal and runs cleanups in
// reverse registration order on Shutdown.
type Handler struct {
	mu       sync.Mutex
	cleanups []Cleanup
	names    []string

	isShuttingDown atomic.Bool
	signalled      atomic.Bool
	done           chan struct{}
	timeout        time.Duration
	err            error

	ctx     context.Context
	cancel  context.CancelFunc
	sigChan chan os.Signal
	signals []os.Signal
	log     *logger.Logger
}

// New creates a handler whose context derives from parent.
func New(parent context.Context, cfg Config) *Handler {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = def.Signals
	}
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}

	ctx, cancel := context.WithCancel(parent)

	return &Handler{
		done:    make(chan struct{}),
		timeout: cfg.Timeout,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
		signals: cfg.Signals,
		log:     cfg.Log.WithComponent("shutdown"),
	}
}

// Register adds a named cleanup.
func (h *Handler) Register(name string, cleanup Cleanup) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cleanups = append(h.cleanups, cleanup)
	h.names = append(h.names, name)
}

// RegisterFunc adds a cleanup that cannot fail.
func (h *Handler) RegisterFunc(name string, fn func()) {
	h.Register(name, func(context.Context) error {
		fn()
		return nil
	})
}

// RegisterCloser adds a cleanup that closes c.
func (h *Handler) RegisterCloser(name string, c interface{ Close() error }) {
	h.Register(name, func(context.Context) error {
		return c.Close()
	})
}

// Context is cancelled on the first signal or when Shutdown starts.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Listen starts watching for the configured signals. It returns a function
// that stops watching.
func (h *Handler) Listen() (stop func()) {
	signal.Notify(h.sigChan, h.signals...)
	quit := make(chan struct{})

	go func() {
		select {
		case sig := <-h.sigChan:
			h.signalled.Store(true)
			h.log.WithField("signal", sig.String()).Warn("interrupted, cancelling in-flight requests")
			h.cancel()
		case <-quit:
		case <-h.ctx.Done():
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(h.sigChan)
			close(quit)
		})
	}
}

// Trigger delivers a synthetic signal, as if the process had been
// interrupted.
func (h *Handler) Trigger() {
	select {
	case h.sigChan <- syscall.SIGTERM:
	default:
	}
}

// Signalled reports whether a signal cancelled the context.
func (h *Handler) Signalled() bool {
	return h.signalled.Load()
}

// IsShuttingDown returns whether Shutdown has started.
func (h *Handler) IsShuttingDown() bool {
	return h.isShuttingDown.Load()
}

// Done is closed when Shutdown completes.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Shutdown cancels the context and runs every cleanup, last registered
// first, within the configured timeout. It returns the combined cleanup
// errors. Later calls return the first result.
func (h *Handler) Shutdown() error {
	if !h.isShuttingDown.CompareAndSwap(false, true) {
		<-h.done
		return h.err
	}

	start := time.Now()
	h.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	cleanups := append([]Cleanup(nil), h.cleanups...)
	names := append([]string(nil), h.names...)
	h.mu.Unlock()

	var errs error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := h.run(ctx, names[i], cleanups[i]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", names[i], err))
		}
	}

	h.err = errs
	h.log.WithField("elapsed", time.Since(start).String()).Debug("shutdown complete")
	close(h.done)
	return errs
}

func (h *Handler) run(ctx context.Context, name string, cleanup Cleanup) error {
	done := make(chan error, 1)

	go func() {
		done <- cleanup(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{CleanupName: name}
	}
}

// TimeoutError is returned when a cleanup outlives the shutdown budget.
type TimeoutError struct {
	CleanupName string
}

func (e *TimeoutError) Error() string {
	return "shutdown cleanup timed out: " + e.CleanupName
}
