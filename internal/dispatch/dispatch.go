package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"github.com/indigo-web/gate/config"
	"github.com/indigo-web/gate/event"
	"github.com/indigo-web/gate/http/status"
	"github.com/indigo-web/gate/internal/metrics"
	"github.com/indigo-web/gate/internal/protocol/http1"
	"github.com/indigo-web/gate/internal/protocol/ws"
	"github.com/indigo-web/gate/scope"
	"github.com/indigo-web/gate/transport"
)

var (
	ErrUnknownConnectionType = errors.New("unknown connection type")
	ErrApplicationPanic      = errors.New("application panicked")
)

// Dispatcher serves accepted connections one by one. It holds no per-connection
// state, so Serve may be called concurrently.
type Dispatcher struct {
	cfg     *config.Config
	app     event.Application
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(cfg *config.Config, app event.Application, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		cfg:     cfg,
		app:     app,
		logger:  logger,
		metrics: m,
	}
}

// Dispatch binds the exchange matching the scope's type to the client and calls the
// application exactly once. Nil scope stands for a connection closed before the
// request line, in which case the application isn't called at all.
func (d *Dispatcher) Dispatch(s *scope.Scope, client transport.Client, app event.Application) error {
	if s == nil {
		return nil
	}

	switch s.Type {
	case scope.HTTP:
		exchange := http1.New(s, client, d.cfg)
		err := call(app, s, exchange.Receive, exchange.Send)
		return errors.Join(err, exchange.Finish(err))
	case scope.WebSocket:
		exchange := ws.New(s, client, d.cfg, d.metrics)
		err := call(app, s, exchange.Receive, exchange.Send)
		return errors.Join(err, exchange.Finish())
	default:
		return fmt.Errorf("%w: %d", ErrUnknownConnectionType, s.Type)
	}
}

// call turns a panic in the application into an error, so the exchange still gets
// finished.
func call(app event.Application, s *scope.Scope, receive event.ReceiveFunc, send event.SendFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrApplicationPanic, r)
		}
	}()

	return app(s, receive, send)
}

// Serve owns the connection until the application returns. The connection is always
// closed afterward.
func (d *Dispatcher) Serve(conn net.Conn) {
	client := transport.NewClient(
		conn,
		d.cfg.NET.ReadTimeout,
		make([]byte, d.cfg.NET.ReadBufferSize),
		make([]byte, 0, d.cfg.NET.WriteBufferSize.Default),
	)
	defer client.Close()

	logger := d.logger.With(
		slog.String("conn_id", uuid.NewString()),
		slog.String("remote", conn.RemoteAddr().String()),
	)

	s, err := scope.Build(client, d.cfg)
	if err != nil {
		d.metrics.Error("scope")
		logger.Warn("failed to build scope", slog.Any("error", err))
		d.reportError(logger, client, err)

		return
	}

	if s == nil {
		logger.Debug("connection closed before the request line")
		return
	}

	logger.Debug("connection opened",
		slog.String("type", s.Type.String()),
		slog.String("path", s.Path),
	)

	err = d.metrics.ObserveConnection(s.Type.String(), func() error {
		return d.Dispatch(s, client, d.app)
	})
	if errors.Is(err, ErrApplicationPanic) {
		d.metrics.Error("panic")
		logger.Error("application panicked", slog.Any("error", err))
		return
	}

	if err != nil {
		d.metrics.Error("application")
		logger.Warn("connection failed", slog.Any("error", err))
		return
	}

	logger.Debug("connection closed")
}

// reportError writes a best-effort response for errors carrying a status code. Other
// errors mean the transport is already broken, so there's nobody to respond to.
func (d *Dispatcher) reportError(logger *slog.Logger, client transport.Client, err error) {
	var httpErr status.HTTPError
	if !errors.As(err, &httpErr) {
		return
	}

	if _, err = client.Write(http1.AppendError(nil, "", httpErr.Code)); err == nil {
		err = client.Flush()
	}

	if err != nil {
		logger.Debug("failed to report the error", slog.Any("error", err))
	}
}
