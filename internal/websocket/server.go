package websocket

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/conneroisu/msssg/internal/errors"
)

// Path is where clients connect.
const Path = "/_msssg/notify"

// Serve listens on addr and serves the notification endpoint until ctx is
// done. The listener is bound before Serve returns so callers can report
// the address; serving continues in the background.
func (m *Manager) Serve(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeNetwork, "listen on "+addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Path, m.HandleWebSocket)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(shutdownCtx)
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			m.logger.Error(ctx, err, "Notification server stopped", "addr", ln.Addr().String())
		}
	}()

	return ln.Addr(), nil
}
