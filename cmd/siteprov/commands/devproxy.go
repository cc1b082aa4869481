package commands

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/siteprov/siteprov/pkg/devproxy"
	"github.com/siteprov/siteprov/pkg/telemetry"
)

func newDevProxyCommand() *cobra.Command {
	var (
		buildConfig string
		listen      string
		devServer   string
		noReload    bool
	)

	cmd := &cobra.Command{
		Use:   "devproxy",
		Short: "Run the development reverse proxy",
		Long: `Run a reverse proxy in front of the front-end dev server. Requests whose
path begins with a proxy prefix of the build config are forwarded to that
rule's target, including WebSocket upgrades on rules with ws enabled. All other
requests go to the dev server.

The proxy table is reloaded when the build config file changes. Prometheus
metrics are served on /metrics and a health check on /healthz.`,
		Example: `  # Proxy localhost:8080 to the dev server and the backend
  siteprov devproxy

  # Use another listen address and dev server
  siteprov devproxy --listen :9000 --dev-server http://localhost:5173`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := log.Logger

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			_, source, err := loadBuildConfig(ctx, cfg, buildConfig, logger)
			if err != nil {
				return err
			}

			metricsCfg := cfg.Telemetry.Metrics
			metrics, err := telemetry.NewMetrics(metricsCfg)
			if err != nil {
				return err
			}

			if !verbose {
				gin.SetMode(gin.ReleaseMode)
			}

			proxy, err := devproxy.New(ctx, devproxy.Options{
				ConfigPath: source,
				Listen:     listen,
				DevServer:  devServer,
				Environ:    environMap(),
				Metrics:    metrics,
				Logger:     logger,
			})
			if err != nil {
				return err
			}

			if !noReload {
				if err := proxy.Watch(ctx); err != nil {
					return err
				}
			}
			return proxy.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&buildConfig, "build-config", "b", "", "build config file (default from siteprov.yaml)")
	cmd.Flags().StringVarP(&listen, "listen", "l", "localhost:8080", "listen address")
	cmd.Flags().StringVar(&devServer, "dev-server", "", "dev server origin (default http://localhost:<server.port>)")
	cmd.Flags().BoolVar(&noReload, "no-reload", false, "do not reload the build config on change")

	return cmd
}
