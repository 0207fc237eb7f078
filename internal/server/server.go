package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/sameer2210/CodeX-sub000/internal/call"
	"github.com/sameer2210/CodeX-sub000/internal/chat"
	"github.com/sameer2210/CodeX-sub000/internal/dispatch"
	"github.com/sameer2210/CodeX-sub000/internal/registry"
	"github.com/sameer2210/CodeX-sub000/internal/review"
	"github.com/sameer2210/CodeX-sub000/internal/rooms"
	"github.com/sameer2210/CodeX-sub000/internal/server/middleware"
	"github.com/sameer2210/CodeX-sub000/pkg/auth"
	"github.com/sameer2210/CodeX-sub000/pkg/config"
	"github.com/sameer2210/CodeX-sub000/pkg/transport"
)

// closablePeer matches transport.Connection's shutdown surface.
type closablePeer interface {
	Close(err error)
}

type App struct {
	logger     *slog.Logger
	reg        *registry.Registry
	dispatcher *dispatch.Dispatcher
	wg         sync.WaitGroup
	http       *http.Server
	config     *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, verifier auth.Verifier, store chat.Store, reviewer review.Reviewer) *App {
	reg := registry.New(logger)
	roomRouter := rooms.NewRouter(logger, reg, store, cfg.Chat.HistoryLimit, cfg.Presence.LeaveDelay)
	callManager := call.NewManager(logger, cfg.Call.RingTimeout)
	dispatcher := dispatch.New(logger, reg, roomRouter, callManager, store, reviewer)

	app := &App{
		logger:     logger,
		reg:        reg,
		dispatcher: dispatcher,
		config:     cfg,
		ctx:        rootCtx,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Close the identity's oldest connection when the limiter cycles.
	connCycler := func(team, username string) {
		oldest, found := reg.OldestIdentityConnection(team, username)
		if !found {
			return
		}
		logger.Info("Cycling connection: closing oldest",
			slog.String("team", team),
			slog.String("username", username),
			slog.String("connID", oldest.ID.String()),
		)
		if peer, ok := oldest.Peer.(closablePeer); ok {
			peer.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			middleware.NewAuthMiddleware(logger, verifier),
			middleware.NewConnectionLimiter(
				logger,
				reg.CountIdentityConnections,
				connCycler,
				cfg.Server.ConnectionLimit,
			),
		),
	)

	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}

	return app
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("team", reqMeta.Identity.Team),
		slog.String("username", reqMeta.Identity.Username),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		a.dispatcher.HandleMessage,
		nil,
		a.logger,
	)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Running disconnect cleanup", slog.String("connID", id.String()))
		a.dispatcher.HandleDisconnect(id)
	})

	a.reg.Register(conn, reqMeta.Identity)
	a.dispatcher.HandleConnect(conn.ID())

	connLogger.Info("User connection fully established")
	conn.Run()
	<-conn.Done()
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.reg.Connections() {
		if peer, ok := conn.Peer.(closablePeer); ok {
			peer.Close(errors.New("graceful shutdown"))
		}
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
