package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/jamesprial/virtweb/internal/api"
	"github.com/jamesprial/virtweb/internal/config"
	"github.com/jamesprial/virtweb/internal/hypervisor"
	"github.com/jamesprial/virtweb/internal/metrics"
	"github.com/jamesprial/virtweb/internal/network"
	"github.com/jamesprial/virtweb/internal/safety"
	"github.com/jamesprial/virtweb/internal/storage"
	"github.com/jamesprial/virtweb/internal/tools"
	"github.com/jamesprial/virtweb/internal/vm"
	"github.com/jamesprial/virtweb/internal/webui"
)

const shutdownTimeout = 15 * time.Second

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newClient builds the backend client. A nil dial uses the real libvirt
// transport.
func newClient(b config.BackendConfig, logger hclog.Logger, obs hypervisor.Observer, dial hypervisor.DialFunc) *hypervisor.Client {
	return hypervisor.New(hypervisor.Options{
		URI:            b.URI,
		ConnectTimeout: b.ConnectTimeout(),
		CallTimeout:    b.CallTimeout(),
		MaxConnections: b.MaxConnections,
		RetryConnect:   b.ConnectRetry,
		Logger:         logger,
		Observer:       obs,
		Dial:           dial,
	})
}

// buildHandler wires every component described by cfg. The returned closer
// releases the audit log.
func buildHandler(cfg *config.Config, logger hclog.Logger, dial hypervisor.DialFunc) (http.Handler, io.Closer, error) {
	vmPolicy, volumePolicy, ifacePolicy, err := cfg.Listing.Policies()
	if err != nil {
		return nil, nil, err
	}

	var m *metrics.Metrics
	var obs hypervisor.Observer
	if cfg.Metrics.Enabled {
		m = metrics.New()
		obs = m
	}

	client := newClient(cfg.Backend, logger.Named("hypervisor"), obs, dial)

	var (
		audit  *safety.AuditLogger
		closer io.Closer = nopCloser{}
	)
	if cfg.Audit.Enabled {
		audit, closer, err = safety.OpenAuditLog(cfg.Audit.LogPath)
		if err != nil {
			return nil, nil, err
		}
		audit = audit.WithLogger(logger.Named("audit"))
		logger.Info("audit log enabled", "path", cfg.Audit.LogPath)
	}

	filter := safety.NewFilter(cfg.Safety.VMs.Allowlist, cfg.Safety.VMs.Denylist)

	vms := vm.NewManager(client, vmPolicy, logger.Named("vm"))
	vols := storage.NewManager(client, cfg.Storage.Pool, volumePolicy, logger.Named("storage"))
	nets := network.NewManager(client, ifacePolicy, logger.Named("network"))

	opts := api.Options{
		VMs:         vms,
		Storage:     vols,
		Network:     nets,
		Host:        client,
		Filter:      filter,
		Audit:       audit,
		AuthToken:   cfg.Server.AuthToken,
		Metrics:     m,
		MetricsPath: cfg.Metrics.Path,
		UI:          webui.NewHandler(webui.FS(cfg.UI.Dir), logger.Named("webui")),
		Logger:      logger.Named("api"),
	}

	if cfg.MCP.Enabled {
		env := tools.Env{
			Filter:  filter,
			Confirm: safety.NewConfirmationTracker(vm.DestructiveTools, time.Duration(cfg.MCP.ConfirmTTLSeconds)*time.Second),
			Audit:   audit,
		}
		mcpServer := tools.NewServer("virtweb", version,
			vm.VMTools(vms, env),
			storage.StorageTools(vols, env),
			network.NetworkTools(nets, env),
		)
		opts.MCP = tools.Handler(mcpServer, cfg.MCP.Path)
		opts.MCPPath = cfg.MCP.Path
	}

	return api.NewServer(opts), closer, nil
}

func serve(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	logger := cfg.Log.NewLogger("virtweb", logOut)

	handler, closer, err := buildHandler(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closer.Close(); cerr != nil {
			logger.Warn("failed to close audit log", "error", cerr)
		}
	}()

	if cfg.Server.AuthToken == "" {
		logger.Warn("server.auth_token is not set; /api and MCP are unauthenticated")
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Listen, "libvirt", cfg.Backend.URI, "version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
