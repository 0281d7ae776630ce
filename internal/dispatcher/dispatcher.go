// Package dispatcher accepts client connections and hands each one to a
// worker from a bounded pool. When every pooled worker is busy an overflow
// worker is started for the connection; workers beyond the pool capacity exit
// once their request completes.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cmdgate/internal/metrics"
	"github.com/JakeFAU/cmdgate/internal/worker"
)

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown.
var ErrServerClosed = errors.New("dispatcher: server closed")

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Config controls the listener and pool.
type Config struct {
	// Addr is the TCP address for ListenAndServe, e.g. ":8080".
	Addr string
	// Capacity is the number of workers kept alive between requests.
	Capacity int
	// Worker configures every worker in the pool.
	Worker worker.Config
	Logger *zap.Logger
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Running         bool   `json:"running"`
	Capacity        int    `json:"capacity"`
	Idle            int    `json:"idle"`
	Busy            int    `json:"busy"`
	Workers         int    `json:"workers"`
	OverflowSpawned uint64 `json:"overflow_spawned"`
	Accepted        uint64 `json:"accepted"`
	Served          uint64 `json:"served"`
	Rejected        uint64 `json:"rejected"`
	Abandoned       uint64 `json:"abandoned"`
}

// slot is one worker goroutine. It is either on the idle list or bound to a
// connection, never both.
type slot struct {
	conns chan net.Conn
}

// Dispatcher is the acceptor plus worker pool.
type Dispatcher struct {
	cfg     Config
	logger  *zap.Logger
	handler *worker.Worker

	// mu guards idle, busy and live together so that the pool size check and
	// the push or exit decision are atomic.
	mu   sync.Mutex
	idle []*slot
	busy int
	live int

	// base carries the values of the first Serve context but not its
	// cancellation, so in-flight requests finish after that context ends.
	base context.Context

	running   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup

	lnMu      sync.Mutex
	listeners map[net.Listener]struct{}

	accepted  atomic.Uint64
	overflow  atomic.Uint64
	served    atomic.Uint64
	rejected  atomic.Uint64
	abandoned atomic.Uint64
}

// New validates cfg and builds a Dispatcher. Workers start on the first
// Serve call.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Capacity < 0 {
		return nil, fmt.Errorf("dispatcher: capacity must be >= 0, got %d", cfg.Capacity)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Worker.Logger == nil {
		cfg.Worker.Logger = cfg.Logger.Named("worker")
	}
	handler, err := worker.New(cfg.Worker)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	return &Dispatcher{
		cfg:       cfg,
		logger:    cfg.Logger,
		handler:   handler,
		quit:      make(chan struct{}),
		listeners: make(map[net.Listener]struct{}),
	}, nil
}

// ListenAndServe listens on cfg.Addr and calls Serve.
func (d *Dispatcher) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", d.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.cfg.Addr, err)
	}
	return d.Serve(ctx, ln)
}

// Serve accepts connections on ln until Shutdown is called or ctx ends. It
// always closes ln. Accept failures are logged and retried with backoff; they
// never stop the loop while the dispatcher is running.
func (d *Dispatcher) Serve(ctx context.Context, ln net.Listener) error {
	if d.isStopped() {
		_ = ln.Close()
		return ErrServerClosed
	}
	d.startOnce.Do(func() { d.startPool(ctx) })
	if !d.track(ln) {
		_ = ln.Close()
		return ErrServerClosed
	}
	defer d.untrack(ln)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	d.logger.Info("accepting connections",
		zap.Stringer("addr", ln.Addr()),
		zap.Int("capacity", d.cfg.Capacity),
	)

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !d.running.Load() {
				return ErrServerClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}
			metrics.ObserveAcceptError()
			backoff = nextBackoff(backoff)
			d.logger.Warn("accept failed; retrying", zap.Error(err), zap.Duration("backoff", backoff))
			if !d.sleep(backoff) {
				return ErrServerClosed
			}
			continue
		}
		backoff = 0
		d.accepted.Add(1)
		metrics.ObserveAccept()
		d.assign(conn)
	}
}

// Shutdown stops accepting, releases idle workers and waits for in-flight
// requests to finish or ctx to end. Blocked Accept calls are interrupted by
// closing the listeners.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.running.Store(false)
		close(d.quit)
		d.idle = nil
		d.publishLocked()
		d.mu.Unlock()

		d.lnMu.Lock()
		for ln := range d.listeners {
			if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				d.logger.Warn("close listener", zap.Error(err))
			}
		}
		d.lnMu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

// Running reports whether the dispatcher accepts connections.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// Stats returns a snapshot of the pool.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	idle, busy, live := len(d.idle), d.busy, d.live
	d.mu.Unlock()
	return Stats{
		Running:         d.running.Load(),
		Capacity:        d.cfg.Capacity,
		Idle:            idle,
		Busy:            busy,
		Workers:         live,
		OverflowSpawned: d.overflow.Load(),
		Accepted:        d.accepted.Load(),
		Served:          d.served.Load(),
		Rejected:        d.rejected.Load(),
		Abandoned:       d.abandoned.Load(),
	}
}

func (d *Dispatcher) startPool(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isStopped() {
		return
	}
	d.base = context.WithoutCancel(ctx)
	d.running.Store(true)
	for i := 0; i < d.cfg.Capacity; i++ {
		s := &slot{conns: make(chan net.Conn, 1)}
		d.idle = append(d.idle, s)
		d.live++
		d.wg.Add(1)
		go d.run(d.base, s, nil)
	}
	d.publishLocked()
}

// assign hands conn to an idle worker, or starts an overflow worker.
func (d *Dispatcher) assign(conn net.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		_ = conn.Close()
		return
	}
	d.busy++
	if n := len(d.idle); n > 0 {
		s := d.idle[n-1]
		d.idle[n-1] = nil
		d.idle = d.idle[:n-1]
		d.publishLocked()
		s.conns <- conn
		return
	}
	d.live++
	d.overflow.Add(1)
	metrics.ObserveOverflowSpawn()
	d.publishLocked()
	d.wg.Add(1)
	go d.run(d.base, &slot{conns: make(chan net.Conn, 1)}, conn)
}

func (d *Dispatcher) run(ctx context.Context, s *slot, conn net.Conn) {
	defer d.wg.Done()
	for {
		if conn == nil {
			select {
			case conn = <-s.conns:
			case <-d.quit:
				// A connection may have been handed over just before shutdown.
				select {
				case conn = <-s.conns:
				default:
					d.exit()
					return
				}
			}
		}
		d.record(d.handler.Serve(ctx, conn))
		conn = nil
		if !d.release(s) {
			return
		}
	}
}

// release returns s to the idle list. It reports false when s should exit
// because the pool is full or the dispatcher stopped.
func (d *Dispatcher) release(s *slot) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.busy--
	if !d.running.Load() || len(d.idle) >= d.cfg.Capacity {
		d.live--
		d.publishLocked()
		return false
	}
	d.idle = append(d.idle, s)
	d.publishLocked()
	return true
}

func (d *Dispatcher) exit() {
	d.mu.Lock()
	d.live--
	d.publishLocked()
	d.mu.Unlock()
}

func (d *Dispatcher) record(out worker.Outcome) {
	switch out.Kind {
	case worker.OutcomeServed:
		d.served.Add(1)
	case worker.OutcomeRejected:
		d.rejected.Add(1)
	default:
		d.abandoned.Add(1)
	}
}

func (d *Dispatcher) publishLocked() {
	metrics.SetPoolWorkers(len(d.idle), d.busy)
}

func (d *Dispatcher) track(ln net.Listener) bool {
	d.lnMu.Lock()
	defer d.lnMu.Unlock()
	if d.isStopped() {
		return false
	}
	d.listeners[ln] = struct{}{}
	return true
}

func (d *Dispatcher) untrack(ln net.Listener) {
	d.lnMu.Lock()
	delete(d.listeners, ln)
	d.lnMu.Unlock()
	_ = ln.Close()
}

func (d *Dispatcher) isStopped() bool {
	select {
	case <-d.quit:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) sleep(dur time.Duration) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-d.quit:
		return false
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	if cur == 0 {
		return minAcceptBackoff
	}
	cur *= 2
	if cur > maxAcceptBackoff {
		return maxAcceptBackoff
	}
	return cur
}
