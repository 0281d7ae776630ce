// Package worker serves one command request per client connection: read a
// single request line, parse it, dispatch the command and write the response.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/cmdgate/internal/command"
	"github.com/JakeFAU/cmdgate/internal/progress"
	"github.com/JakeFAU/cmdgate/internal/protocol"
)

// BufferSize bounds the request line.
const BufferSize = 2048

// ErrNoSubscriber reports a GET for a command nobody subscribed to.
var ErrNoSubscriber = errors.New("no subscriber for command")

// Registry is the subset of the command registry a worker needs.
type Registry interface {
	HasSubscribers(name string) bool
	Fire(ctx context.Context, cmd *command.Command) int
}

// PageProvider returns the current static page.
type PageProvider interface {
	Load() string
}

// Clock supplies timestamps for the Date header and events.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints request identifiers.
type IDGenerator interface {
	MustRawID() uuid.UUID
}

// Config wires a Worker to its collaborators. Registry and Page are required.
type Config struct {
	// ReadTimeout bounds the wait for the request line. Zero disables it.
	ReadTimeout time.Duration
	// WriteTimeout bounds writing the response. Zero disables it.
	WriteTimeout time.Duration
	Page         PageProvider
	Registry     Registry
	Clock        Clock
	IDs          IDGenerator
	Emitter      progress.Emitter
	Logger       *zap.Logger
}

// OutcomeKind classifies how a request ended.
type OutcomeKind int

// Outcome kinds.
const (
	// OutcomeServed covers a 200 response and a HEAD acknowledged without one.
	OutcomeServed OutcomeKind = iota
	// OutcomeRejected covers 400 and 405 responses.
	OutcomeRejected
	// OutcomeAbandoned means the connection was closed without a complete response.
	OutcomeAbandoned
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeServed:
		return "served"
	case OutcomeRejected:
		return "rejected"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome summarizes one request.
type Outcome struct {
	ID        uuid.UUID
	Kind      OutcomeKind
	Status    int
	Method    string
	Name      string
	Delivered int
	Duration  time.Duration
	Err       error
}

func (o Outcome) stage() progress.Stage {
	switch o.Kind {
	case OutcomeServed:
		return progress.StageRequestDone
	case OutcomeRejected:
		return progress.StageRequestRejected
	default:
		return progress.StageRequestAbandoned
	}
}

// Worker handles connections one at a time. A Worker holds no per-request
// state, so the pool may reuse it after Serve returns.
type Worker struct {
	cfg    Config
	logger *zap.Logger
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

type randomIDs struct{}

func (randomIDs) MustRawID() uuid.UUID { return uuid.New() }

// New validates cfg and returns a Worker.
func New(cfg Config) (*Worker, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("worker: registry is required")
	}
	if cfg.Page == nil {
		return nil, fmt.Errorf("worker: page is required")
	}
	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 {
		return nil, fmt.Errorf("worker: timeouts must be >= 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	if cfg.IDs == nil {
		cfg.IDs = randomIDs{}
	}
	if cfg.Emitter == nil {
		cfg.Emitter = progress.NopEmitter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Worker{cfg: cfg, logger: cfg.Logger}, nil
}

// Serve runs one request on conn and always closes it before returning.
// Panics below Serve are recovered and reported as an abandoned outcome.
func (w *Worker) Serve(ctx context.Context, conn net.Conn) (out Outcome) {
	start := w.cfg.Clock.Now()
	out.ID = w.cfg.IDs.MustRawID()
	defer func() {
		if rec := recover(); rec != nil {
			out.Kind = OutcomeAbandoned
			out.Err = fmt.Errorf("worker panic: %v", rec)
		}
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			w.logger.Debug("close connection", zap.Error(err))
		}
		out.Duration = w.cfg.Clock.Now().Sub(start)
		w.report(out)
	}()

	line, err := w.readLine(conn)
	if err != nil {
		out.Kind = OutcomeAbandoned
		out.Err = err
		return out
	}
	return w.handle(ctx, conn, line, out)
}

func (w *Worker) handle(ctx context.Context, conn net.Conn, line string, out Outcome) Outcome {
	req, err := protocol.ParseRequestLine(line)
	if err != nil {
		var perr *protocol.ParseError
		if !errors.As(err, &perr) {
			out.Kind = OutcomeAbandoned
			out.Err = err
			return out
		}
		out.Method, out.Name = perr.Method, perr.Name
		resp := protocol.Malformed(perr.Name, perr.Values)
		if errors.Is(err, protocol.ErrUnsupportedMethod) {
			resp = protocol.BadMethod(perr.Method)
		}
		return w.respond(conn, resp, OutcomeRejected, err, out)
	}

	out.Method, out.Name = req.Method, req.Command.Name()
	if out.Name == "" {
		if !req.IsGet() {
			out.Kind = OutcomeServed
			return out
		}
		return w.respond(conn, protocol.OK(w.cfg.Page.Load()), OutcomeServed, nil, out)
	}

	// HEAD skips the subscriber check and is always dispatched.
	if req.IsGet() && !w.cfg.Registry.HasSubscribers(out.Name) {
		return w.respond(conn, protocol.NoHandler(out.Name, req.Values), OutcomeRejected, ErrNoSubscriber, out)
	}

	out.Delivered = w.cfg.Registry.Fire(ctx, req.Command)
	if !req.IsGet() {
		out.Kind = OutcomeServed
		return out
	}
	return w.respond(conn, protocol.OK(w.cfg.Page.Load()), OutcomeServed, nil, out)
}

func (w *Worker) respond(conn net.Conn, resp protocol.Response, kind OutcomeKind, cause error, out Outcome) Outcome {
	out.Status = resp.Status
	out.Kind = kind
	out.Err = cause
	if w.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout)); err != nil {
			w.logger.Debug("set write deadline", zap.Error(err))
		}
	}
	if err := protocol.WriteResponse(conn, resp, w.cfg.Clock.Now()); err != nil {
		out.Kind = OutcomeAbandoned
		out.Err = err
	}
	return out
}

// readLine reads until '\n' or '\r', until the buffer fills or until EOF.
// EOF before any byte is an error.
func (w *Worker) readLine(conn net.Conn) (string, error) {
	if w.cfg.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout)); err != nil {
			return "", fmt.Errorf("set read deadline: %w", err)
		}
	}
	buf := make([]byte, BufferSize)
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		if i := bytes.IndexAny(buf[n:n+m], "\r\n"); i >= 0 {
			return string(buf[:n+i]), nil
		}
		n += m
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) && n > 0 {
			break
		}
		return "", fmt.Errorf("read request line: %w", err)
	}
	return string(buf[:n]), nil
}

func (w *Worker) report(out Outcome) {
	fields := []zap.Field{
		zap.Stringer("request_id", out.ID),
		zap.Stringer("outcome", out.Kind),
		zap.String("method", out.Method),
		zap.String("command", out.Name),
		zap.Int("status", out.Status),
		zap.Int("delivered", out.Delivered),
		zap.Duration("dur", out.Duration),
	}
	switch {
	case out.Kind == OutcomeAbandoned:
		w.logger.Debug("connection abandoned", append(fields, zap.Error(out.Err))...)
	case out.Err != nil:
		w.logger.Debug("request rejected", append(fields, zap.Error(out.Err))...)
	default:
		w.logger.Debug("request served", fields...)
	}

	evt := progress.Event{
		RequestID: progress.UUIDToBytes(out.ID),
		TS:        w.cfg.Clock.Now(),
		Stage:     out.stage(),
		Method:    out.Method,
		Command:   out.Name,
		Status:    out.Status,
		Delivered: out.Delivered,
		Dur:       out.Duration,
	}
	if out.Err != nil {
		evt.Note = out.Err.Error()
	}
	w.cfg.Emitter.Emit(evt)
}
