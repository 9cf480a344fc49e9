package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/loqalabs/loqa-listen/internal/api"
	"github.com/loqalabs/loqa-listen/internal/broadcast"
	"github.com/loqalabs/loqa-listen/internal/bus"
	"github.com/loqalabs/loqa-listen/internal/capability"
	"github.com/loqalabs/loqa-listen/internal/capture"
	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/draft"
	"github.com/loqalabs/loqa-listen/internal/eventstore"
	"github.com/loqalabs/loqa-listen/internal/natsserver"
	"github.com/loqalabs/loqa-listen/internal/protocol"
	"github.com/loqalabs/loqa-listen/internal/speech"
	"github.com/loqalabs/loqa-listen/internal/stt"
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	ready      atomic.Bool
	wg         sync.WaitGroup

	bus      *bus.Client
	registry *capability.Registry
	host     *stt.Service
	closers  []func()
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	apiHandler, err := r.build(ctx)
	if err != nil {
		r.close()
		_ = shutdownTelemetry(context.Background())
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.router(apiHandler, metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("recognizer", r.cfg.Recognizer.Mode),
		slog.Bool("bus", r.bus != nil),
	)

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	r.close()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
	return nil
}

// build assembles the dictation pipeline. Components are released in
// reverse order by close.
func (r *Runtime) build(ctx context.Context) (*api.Handler, error) {
	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx); err != nil {
			return nil, err
		}
	}

	recognizer, err := r.recognizer()
	if err != nil {
		return nil, err
	}

	history, err := eventstore.Open(ctx, r.cfg.History, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	r.onClose(func() {
		if err := history.Close(); err != nil {
			r.logger.Warn("event store close failed", slog.String("error", err.Error()))
		}
	})

	opts := []speech.Option{speech.WithJournal(history)}
	if r.cfg.Capture.Enabled {
		sink, err := capture.NewWavSink(r.cfg.Capture, r.logger)
		if err != nil {
			return nil, fmt.Errorf("init capture: %w", err)
		}
		opts = append(opts, speech.WithCapture(sink))
	}

	store := speech.NewStore()
	// Session and host outlive ctx so close can finish the attempt in flight.
	session := speech.NewSession(context.WithoutCancel(ctx), r.cfg.Recognizer, store, recognizer, r.logger, opts...)
	r.onClose(session.Close)

	var sharer draft.Sharer = draft.NewLogSharer(r.logger)
	if r.bus != nil {
		publisher := broadcast.Start(store, r.bus, r.cfg.Node.ID, r.logger)
		r.onClose(publisher.Close)
		sharer = draft.NewBusSharer(r.bus, r.cfg.Draft.ShareSubject, r.cfg.Node.ID)
	}

	d := draft.New(r.cfg.Draft.Terminator, sharer)
	return api.New(session, d, history, r.cfg.Node.ID, r.logger), nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded nats: %w", err)
	}
	if embedded != nil {
		r.onClose(embedded.Shutdown)
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	client, err := bus.Connect(ctx, r.cfg.RuntimeName, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return err
	}
	r.bus = client
	r.onClose(client.Close)

	var local []string
	if r.cfg.Recognizer.Host {
		local = append(local, protocol.CapabilityRecognize)
	}
	registry, err := capability.NewRegistry(ctx, r.cfg.Node, client, local, r.logger)
	if err != nil {
		return fmt.Errorf("start capability registry: %w", err)
	}
	r.registry = registry
	r.onClose(registry.Close)

	if r.cfg.Recognizer.Host {
		engine, err := r.localRecognizer(r.cfg.Recognizer.HostMode)
		if err != nil {
			return err
		}
		svc := stt.NewService(context.WithoutCancel(ctx), r.cfg.Node.ID, client, engine, r.logger)
		if err := svc.Start(); err != nil {
			return fmt.Errorf("start recognition host: %w", err)
		}
		r.host = svc
		r.onClose(svc.Close)
	}
	return nil
}

func (r *Runtime) recognizer() (stt.Recognizer, error) {
	if r.cfg.Recognizer.Mode != "bus" {
		return r.localRecognizer(r.cfg.Recognizer.Mode)
	}
	if r.bus == nil || r.registry == nil {
		return nil, fmt.Errorf("recognizer mode bus requires the bus to be enabled")
	}
	timeout := time.Duration(r.cfg.Recognizer.AvailabilityTimeoutMS) * time.Millisecond
	remote := stt.NewBusRecognizer(r.bus, r.registry, timeout, r.logger)
	r.onClose(remote.Close)
	return remote, nil
}

func (r *Runtime) localRecognizer(mode string) (stt.Recognizer, error) {
	switch mode {
	case "mock":
		return stt.NewMockRecognizer(0), nil
	case "exec":
		rec, err := stt.NewExecRecognizer(r.cfg.Recognizer, r.logger)
		if err != nil {
			return nil, fmt.Errorf("init exec recognizer: %w", err)
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("unsupported recognizer mode %q", mode)
	}
}

func (r *Runtime) router(apiHandler *api.Handler, metricsHandler http.Handler) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Get("/healthz", r.handleHealth)
	router.Get("/readyz", r.handleReady)
	if metricsHandler != nil {
		router.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	apiHandler.Mount(router)
	return router
}

func (r *Runtime) onClose(fn func()) {
	r.closers = append(r.closers, fn)
}

func (r *Runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

func (r *Runtime) healthy() bool {
	if r.bus != nil && !r.bus.Healthy() {
		return false
	}
	if r.registry != nil && !r.registry.Healthy() {
		return false
	}
	if r.host != nil && !r.host.Healthy() {
		return false
	}
	return true
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if r.bus != nil && !r.bus.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unhealthy"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
