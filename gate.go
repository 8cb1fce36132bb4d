package gate

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/indigo-web/gate/config"
	"github.com/indigo-web/gate/event"
	"github.com/indigo-web/gate/internal/dispatch"
	"github.com/indigo-web/gate/internal/metrics"
	"github.com/indigo-web/gate/transport"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrNoApplication  = errors.New("no application was passed")
	ErrAlreadyServing = errors.New("application is already being served")
)

// App binds an application to a listening address.
type App struct {
	addr      string
	cfg       *config.Config
	logger    *slog.Logger
	registry  prometheus.Registerer
	hooks     hooks
	mu        sync.Mutex
	transport *transport.TCP
	stopped   bool
}

// New returns a new App instance. Nothing is bound until Serve is called.
func New(addr string) *App {
	return &App{
		addr:   addr,
		cfg:    config.Default(),
		logger: slog.Default(),
	}
}

// Tune replaces the default config.
func (a *App) Tune(cfg *config.Config) *App {
	a.cfg = cfg
	return a
}

// Logger replaces slog.Default(). Every connection logs through a child of it.
func (a *App) Logger(logger *slog.Logger) *App {
	a.logger = logger
	return a
}

// Metrics enables the Prometheus instrumentation, registering the collectors in reg.
func (a *App) Metrics(reg prometheus.Registerer) *App {
	a.registry = reg
	return a
}

// NotifyOnStart calls the callback once the listener is bound and the application is
// ready to accept connections.
func (a *App) NotifyOnStart(cb func()) *App {
	a.hooks.OnStart = cb
	return a
}

// NotifyOnStop calls the callback after the accept loop is stopped and all the
// connections are served.
func (a *App) NotifyOnStop(cb func()) *App {
	a.hooks.OnStop = cb
	return a
}

// Serve accepts connections and dispatches them to the application until Stop is
// called. Connections in progress are served till the end before it returns.
func (a *App) Serve(app event.Application) error {
	if app == nil {
		return ErrNoApplication
	}

	tcp, err := a.bind()
	if err != nil {
		return err
	}

	defer tcp.Close()

	var m *metrics.Metrics
	if a.registry != nil {
		m = metrics.New(a.registry, a.cfg.Metrics.Namespace)
	}

	a.logger.Info("Listening on http://" + tcp.Addr().String())
	callIfNotNil(a.hooks.OnStart)

	d := dispatch.New(a.cfg, app, a.logger, m)
	err = tcp.Listen(a.cfg.NET, d.Serve)
	if err != nil {
		a.logger.Error("accept loop failed", slog.Any("error", err))
	}

	tcp.Wait()
	callIfNotNil(a.hooks.OnStop)

	return err
}

func (a *App) bind() (*transport.TCP, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.transport != nil {
		return nil, ErrAlreadyServing
	}

	tcp := transport.NewTCP()
	if err := tcp.Bind(a.addr); err != nil {
		return nil, err
	}

	a.transport = tcp
	if a.stopped {
		tcp.Stop()
	}

	return tcp, nil
}

// Addr returns the address the application listens on, or nil if it isn't bound yet.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.transport == nil {
		return nil
	}

	return a.transport.Addr()
}

// Stop stops accepting new connections. The call isn't blocking: Serve returns once
// the connections in progress are done.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true
	if a.transport != nil {
		a.transport.Stop()
		a.transport.Close()
	}
}

type hooks struct {
	OnStart, OnStop func()
}

func callIfNotNil(f func()) {
	if f != nil {
		f()
	}
}
