package master

import (
	"context"
	"log/slog"
	"net"

	"github.com/cockroachdb/errors"

	"ffarm/internal/logging"
)

// LocalWorker is an encode worker hosted inside the master process.
type LocalWorker interface {
	Run(ctx context.Context) error
}

// LocalWorkerFactory builds the hosted worker once the API is listening.
// masterURL points at the master's own listener.
type LocalWorkerFactory func(masterURL string, logger *slog.Logger) (LocalWorker, error)

// WithLocalWorker hosts a worker built by factory for the life of the master.
func WithLocalWorker(factory LocalWorkerFactory) Option {
	return func(o *masterOptions) { o.local = factory }
}

func (m *Master) startLocalWorker(ctx context.Context) error {
	masterURL, err := loopbackURL(m.api.addr())
	if err != nil {
		return err
	}
	lw, err := m.local(masterURL, m.logger)
	if err != nil {
		return errors.Wrap(err, "create local worker")
	}
	m.logger.Info("local worker starting", logging.String("master", masterURL))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := lw.Run(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(m.logger, "local worker stopped", "local_worker_stopped",
				logging.Error(err),
				logging.String(logging.FieldImpact, "jobs now depend on remote workers only"),
			)
		}
	}()
	return nil
}

// loopbackURL turns a listener address into a URL reachable from this host.
func loopbackURL(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", errors.Wrapf(err, "parse listen address %q", addr)
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}
