package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	rag "github.com/creatorlens/onboarding-rag"
	"github.com/creatorlens/onboarding-rag/common/logger"
	"github.com/creatorlens/onboarding-rag/metrics"
)

const shutdownTimeout = 10 * time.Second

type serveFlags struct {
	transport   string
	addr        string
	metricsAddr string
}

func newServeCmd(g *globalFlags) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the assistant as MCP tools over stdio or streamable HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("transport") {
				cfg.Server.Transport = f.transport
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = f.addr
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Server.MetricsAddr = f.metricsAddr
			}

			client, err := rag.NewClient(cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.Server.MetricsAddr != "" {
				ms := metricsServer(cfg.Server.MetricsAddr)
				go func() {
					if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Errorf("metrics server stopped: %v", err)
					}
				}()
				defer shutdown(ms)
			}

			mcpServer := rag.NewMCPServer(client)
			switch strings.ToLower(cfg.Server.Transport) {
			case "", "stdio":
				logger.Infof("serving MCP over stdio")
				return server.ServeStdio(mcpServer)
			case "http":
				return serveHTTP(ctx, mcpServer, cfg.Server.Addr)
			default:
				return fmt.Errorf("unsupported transport %q", cfg.Server.Transport)
			}
		},
	}
	cmd.Flags().StringVar(&f.transport, "transport", "stdio", "MCP transport: stdio or http")
	cmd.Flags().StringVar(&f.addr, "addr", ":8090", "listen address for the http transport")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", ":9090", "listen address for /metrics; empty disables it")
	return cmd
}

func metricsServer(addr string) *http.Server {
	metrics.Register()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	logger.Infof("metrics listening on %s", addr)
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func serveHTTP(ctx context.Context, s *server.MCPServer, addr string) error {
	httpServer := server.NewStreamableHTTPServer(s)
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("serving MCP over http on %s/mcp", addr)
		errCh <- httpServer.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Infof("shutting down MCP http server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(sctx)
	}
}

func shutdown(s *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Warnf("metrics server shutdown: %v", err)
	}
}
