package di

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/meridianswap/swapd/internal/config"
	"github.com/meridianswap/swapd/internal/rpc"
	pebbledb "github.com/meridianswap/swapd/internal/storage/keyValueDb/pebble"
	"github.com/meridianswap/swapd/internal/storage/relationalDb"
)

// App owns the assembled application and its lifecycle.
type App struct {
	container *Container
	config    *config.Config
	log       zerolog.Logger
}

// NewApp builds the application graph from configuration. Services are
// instantiated lazily; the first error surfaces from Run.
func NewApp(cfg *config.Config, log zerolog.Logger) *App {
	container := New()
	NewProvider(container, cfg, log).RegisterAll()
	return &App{container: container, config: cfg, log: log}
}

// Handler returns the HTTP handler serving JSON-RPC on "/" and the
// WebSocket event stream on "/ws".
func (a *App) Handler() (http.Handler, error) {
	server, err := a.container.Get(ServiceRPCServer)
	if err != nil {
		return nil, err
	}
	hub, err := a.container.Get(ServiceEventHub)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/", server.(*rpc.Server))
	mux.Handle("/ws", hub.(*rpc.EventHub))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"swapd"}`))
	})
	return mux, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down and closes
// the stores.
func (a *App) Run(ctx context.Context) error {
	handler, err := a.Handler()
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         a.config.Server.ListenAddr,
		Handler:      handler,
		ReadTimeout:  a.config.RequestTimeout(),
		WriteTimeout: a.config.RequestTimeout(),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info().Str("addr", httpServer.Addr).Msg("rpc server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	a.close()
	if err != nil {
		return err
	}
	a.log.Info().Msg("shutdown complete")
	return nil
}

// close releases storage handles that were actually opened.
func (a *App) close() {
	if manager, ok := a.container.Built(ServiceKVManager); ok {
		if m, ok := manager.(*pebbledb.Manager); ok && m != nil {
			if err := m.Close(); err != nil {
				a.log.Error().Err(err).Msg("kv store close failed")
			}
		}
	}
	if history, ok := a.container.Built(ServiceHistory); ok {
		if h, ok := history.(*relationalDb.Store); ok && h != nil {
			if err := h.Close(); err != nil {
				a.log.Error().Err(err).Msg("history store close failed")
			}
		}
	}
}
