package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"facepulse/internal/auth"
	"facepulse/internal/middleware"
	"facepulse/internal/monitoring"
	"facepulse/internal/stream"
	"facepulse/internal/ws"
)

const (
	previewPath  = "/preview.mjpeg"
	snapshotPath = "/preview.jpg"
)

// displayHandler mounts the result stream and, when preview is set, the
// annotated MJPEG preview. A nil manager leaves them open. Session-scoped
// tokens open only their session's result stream, never the preview.
func displayHandler(hub *ws.Hub, preview *stream.Preview, manager *auth.JWTManager) http.Handler {
	protect := middleware.RequireToken(manager)
	protectSession := middleware.RequireSessionToken(manager, ws.SessionFromRequest)

	mux := http.NewServeMux()
	mux.Handle(ws.PathPrefix, protectSession(ws.NewHandler(hub)))
	mux.Handle(ws.PathPrefix+"/", protectSession(ws.NewHandler(hub)))
	if preview != nil {
		mux.Handle(previewPath, protect(preview))
		mux.Handle(snapshotPath, protect(preview.SnapshotHandler()))
	}
	return mux
}

// handleHTTPServer starts an HTTP server on addr and shuts it down
// gracefully once ctx is done. ListenAndServe errors are sent to errc.
func handleHTTPServer(ctx context.Context, addr string, handler http.Handler, wg *sync.WaitGroup, errc chan error) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: time.Second * 60}
	monitoring.Logf("[Display] Results mounted on %s[/{session}]", ws.PathPrefix)

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			monitoring.Logf("[Display] HTTP server listening on %q", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
			}
		}()

		<-ctx.Done()
		monitoring.Logf("[Display] Shutting down HTTP server at %q", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			monitoring.Logf("[Display] Failed to shutdown: %v", err)
		}
	}()
}
