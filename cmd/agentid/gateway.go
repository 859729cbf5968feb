package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentid-dev/agentid-core/internal/app"
	"github.com/agentid-dev/agentid-core/pkg/gateway"
	"github.com/agentid-dev/agentid-core/pkg/reqsign"
)

var (
	gatewayListen string
	gatewayTarget string
	gatewayAction string
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the AgentID gateway",
	Long: `Start a reverse proxy that verifies agent credentials before
forwarding requests to the target.

When AGENTID_GATEWAY_SECRET is set, forwarded requests carry a signed
X-AgentID-Assertion header the upstream can check.`,
	Example: `  agentid gateway --target http://localhost:3000 --action read`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if gatewayTarget != "" {
			cfg.GatewayTarget = gatewayTarget
		}
		if cfg.GatewayTarget == "" {
			return fmt.Errorf("--target (or AGENTID_GATEWAY_TARGET) is required")
		}
		logger := cfg.Logger()

		a, err := app.New(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}
		a.Start()

		var signer *reqsign.Signer
		if cfg.GatewaySecret != "" {
			signer, err = reqsign.New(reqsign.Config{Issuer: "agentid-gateway", Secret: []byte(cfg.GatewaySecret)})
			if err != nil {
				_ = a.Close(context.Background())
				return fmt.Errorf("invalid gateway secret: %w", err)
			}
		}

		gw, err := gateway.NewGateway(gateway.Config{
			Target:   cfg.GatewayTarget,
			Verifier: a.Verifier,
			Options:  gateway.Options{Action: gatewayAction},
			Signer:   signer,
			Logger:   logger,
		})
		if err != nil {
			_ = a.Close(context.Background())
			return err
		}

		srv := &http.Server{Addr: gatewayListen, Handler: gw, ReadHeaderTimeout: 10 * time.Second}
		errCh := make(chan error, 1)
		go func() {
			logger.Info("gateway listening", "addr", gatewayListen, "target", cfg.GatewayTarget)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stop)

		var serveErr error
		select {
		case serveErr = <-errCh:
		case <-stop:
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
		if err := a.Close(ctx); err != nil {
			logger.Error("shutdown incomplete", "error", err)
		}
		return serveErr
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)

	addStoreFlags(gatewayCmd)
	gatewayCmd.Flags().StringVar(&gatewayListen, "listen", ":8081", "Gateway listen address")
	gatewayCmd.Flags().StringVar(&gatewayTarget, "target", "", "Upstream URL (overrides AGENTID_GATEWAY_TARGET)")
	gatewayCmd.Flags().StringVar(&gatewayAction, "action", "", "Action required when requests carry no X-AgentID-Action header")
}
