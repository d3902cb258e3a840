package sidecarstub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
	"git.home.luguber.info/inful/bootstrapd/internal/sidecarapi"
)

// RunOptions configures a stub process.
type RunOptions struct {
	Options
	Channel string
	DataDir string
	// Listen defaults to an ephemeral loopback port.
	Listen string
	// IdleShutdown stops the process once every lease has expired or been deleted.
	IdleShutdown bool
	// FailWith makes startup fail and publish the error variant of the record.
	FailWith string
}

// Run serves until ctx ends (or the server goes idle), publishing the status
// record once the listener is ready and removing it on exit.
func Run(ctx context.Context, opts RunOptions) error {
	srv := New(opts.Options)
	recordPath := sidecarapi.StatusRecordPath(opts.DataDir, opts.Channel)
	log := srv.log.With(logfields.Channel(opts.Channel))

	listen := opts.Listen
	if listen == "" {
		listen = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", listen)
	if err == nil && opts.FailWith != "" {
		_ = ln.Close()
		err = errors.New(opts.FailWith)
	}
	if err != nil {
		if werr := sidecarapi.WriteStatusRecord(recordPath, sidecarapi.StatusRecord{Errors: []string{err.Error()}}); werr != nil {
			log.Error("Failed to publish startup error", logfields.Error(werr))
		}
		return fmt.Errorf("listen: %w", err)
	}

	httpServer := &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.Serve(ln) }()

	rec := sidecarapi.StatusRecord{PID: os.Getpid(), Port: ln.Addr().(*net.TCPAddr).Port, Token: srv.Token()}
	if err := sidecarapi.WriteStatusRecord(recordPath, rec); err != nil {
		_ = httpServer.Close()
		return fmt.Errorf("write status record: %w", err)
	}
	defer func() { _ = os.Remove(recordPath) }()
	log.Info("Sidecar ready", logfields.PID(rec.PID), logfields.URL(rec.URL()), logfields.Path(recordPath))

	sweep := srv.clock.NewTicker(srv.window / 4)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			return shutdown(httpServer)
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-sweep.Chan():
			if srv.Sweep() && opts.IdleShutdown {
				log.Info("No active leases, shutting down")
				return shutdown(httpServer)
			}
		}
	}
}

func shutdown(s *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		slog.Warn("Sidecar shutdown incomplete", logfields.Error(err))
		return err
	}
	return nil
}
