package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vitwit/xpay"
	"github.com/vitwit/xpay/config"
	"github.com/vitwit/xpay/logger"
	"github.com/vitwit/xpay/metrics"
)

var (
	configPath string
	envFile    string
	logLevel   string

	cfg *config.Config

	// sessionOptions are applied to every session before command options.
	sessionOptions []xpay.Option
)

var rootCmd = &cobra.Command{
	Use:   "xpay",
	Short: "Cross-chain stablecoin payment orchestrator",
	Long:  "Routes a stablecoin payment from the payer's network to the payee's, quotes bridge fees, simulates the transaction and issues a payment link.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var envFiles []string
		if envFile != "" {
			envFiles = append(envFiles, envFile)
		}
		loaded, err := config.Load(configPath, envFiles...)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		cfg = loaded
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (defaults to $XPAY_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before the environment (defaults to .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// session is one configured XPay instance plus the process-level services
// behind it.
type session struct {
	x       *xpay.XPay
	log     logger.Logger
	metrics *http.Server
}

func (s *session) Close() {
	s.x.Close()
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.metrics.Shutdown(ctx)
	}
	if z, ok := s.log.(*logger.ZapLogger); ok {
		_ = z.Sync()
	}
}

func sessionOpts(log logger.Logger, rec metrics.Recorder, extra []xpay.Option) []xpay.Option {
	opts := []xpay.Option{xpay.WithLogger(log), xpay.WithMetrics(rec)}
	opts = append(opts, sessionOptions...)
	return append(opts, extra...)
}

func openSession(ctx context.Context, opts ...xpay.Option) (*session, error) {
	log := logger.NewZapLogger(cfg.LogLevel)
	s := &session{log: log}

	var rec metrics.Recorder = metrics.NoopRecorder{}
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		prom, err := metrics.NewPrometheusRecorder(reg)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		rec = prom

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		s.metrics = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", map[string]any{"addr": cfg.MetricsAddr, "error": err})
			}
		}()
	}

	x, err := xpay.New(ctx, cfg, sessionOpts(log, rec, opts)...)
	if err != nil {
		if s.metrics != nil {
			_ = s.metrics.Close()
		}
		return nil, err
	}
	s.x = x
	return s, nil
}
