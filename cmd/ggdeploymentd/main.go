package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/greengrass-lite/ggdeploymentd/internal/daemon"
	"github.com/greengrass-lite/ggdeploymentd/internal/dataplane"
	"github.com/greengrass-lite/ggdeploymentd/internal/jobslistener"
	"github.com/greengrass-lite/ggdeploymentd/pkg/logging"
	"github.com/greengrass-lite/ggdeploymentd/pkg/version"
)

// healthShutdownTimeout bounds how long the health/metrics server is given
// to drain in-flight requests once the daemon loop exits.
const healthShutdownTimeout = 5 * time.Second

// config holds all command-line-configurable parameters for the daemon.
type config struct {
	root             string
	ipcSocketPath    string
	targetUnit       string
	nucleusVersion   string
	queueCapacity    int
	useSudoSystemctl bool
	thingName        string
	logLevel         string
	healthPort       int

	mqttBrokerURL string
	mqttClientID  string
	certFile      string
	keyFile       string
	caFile        string

	dataplaneEndpoint string

	tesEndpoint  string
	tesAuthToken string
	tesRegion    string
}

// Logger type alias for zap.SugaredLogger
type Logger = zap.SugaredLogger

var (
	rootCmd = &cobra.Command{
		Use:   "ggdeploymentd",
		Short: "Component deployment daemon for the Greengrass-lite edge runtime",
		Run:   runCommand,
	}
	cfg = &config{}
	v   = viper.New()
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfg.root, "root", "/var/lib/ggdeploymentd", "Device root directory (config, packages/recipes, packages/artifacts)")
	rootCmd.PersistentFlags().StringVar(&cfg.ipcSocketPath, "ipc-socket", "/run/ggdeploymentd/ggdeploymentd.socket", "Local IPC Unix-domain socket path (overridden by socket activation if present)")
	rootCmd.PersistentFlags().StringVar(&cfg.targetUnit, "target-unit", "ggl.safe-reset.target", "systemd target unit started after each deployment's daemon-reload")
	rootCmd.PersistentFlags().StringVar(&cfg.nucleusVersion, "nucleus-version", "2.0.0", "Running nucleus version, matched against deployments pinning aws.greengrass.NucleusLite")
	rootCmd.PersistentFlags().IntVar(&cfg.queueCapacity, "queue-capacity", 10, "Deployment queue capacity, counting the deployment in flight")
	rootCmd.PersistentFlags().BoolVar(&cfg.useSudoSystemctl, "use-sudo-systemctl", false, "Prefix systemctl invocations with sudo (set when ggdeploymentd does not run as root)")
	rootCmd.PersistentFlags().StringVar(&cfg.thingName, "thing-name", "", "Override the IoT thing name in the config store (local testing only)")
	rootCmd.PersistentFlags().StringVar(&cfg.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().IntVar(&cfg.healthPort, "health-port", 8080, "HTTP port for /healthz and /metrics")

	rootCmd.PersistentFlags().StringVar(&cfg.mqttBrokerURL, "mqtt-broker-url", "", "IoT Jobs MQTT broker URL, e.g. ssl://xxxx-ats.iot.us-east-1.amazonaws.com:8883")
	rootCmd.PersistentFlags().StringVar(&cfg.mqttClientID, "mqtt-client-id", "", "MQTT client ID (used as given; not derived from the thing name)")
	rootCmd.PersistentFlags().StringVar(&cfg.certFile, "cert-file", "", "Device certificate PEM path")
	rootCmd.PersistentFlags().StringVar(&cfg.keyFile, "key-file", "", "Device private key PEM path")
	rootCmd.PersistentFlags().StringVar(&cfg.caFile, "ca-file", "", "CA bundle PEM path")

	rootCmd.PersistentFlags().StringVar(&cfg.dataplaneEndpoint, "dataplane-endpoint", "", "Greengrass data-plane HTTPS endpoint")

	rootCmd.PersistentFlags().StringVar(&cfg.tesEndpoint, "tes-endpoint", "", "Token Exchange Service endpoint")
	rootCmd.PersistentFlags().StringVar(&cfg.tesAuthToken, "tes-auth-token", "", "Token Exchange Service auth token")
	rootCmd.PersistentFlags().StringVar(&cfg.tesRegion, "tes-region", "us-east-1", "AWS region for TES-issued credentials")

	_ = v.BindPFlags(rootCmd.PersistentFlags())
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func initializeLogger() (*Logger, error) {
	level, err := zapcore.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", v.GetString("log-level"), err)
	}

	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Sugar(), nil
}

// setupServer configures the HTTP server carrying health and metrics
// endpoints, matching the teacher's healthz/metrics mux shape.
func setupServer(port int, d *daemon.Daemon) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", d.MetricsHandler())

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
}

func runCommand(_ *cobra.Command, _ []string) {
	zapLogger, err := initializeLogger()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger := logging.ForZap(zapLogger.Desugar())

	zapLogger.Infow("starting ggdeploymentd", "gitVersion", version.GitVersion, "gitCommit", version.GitCommit)
	zapLogger.Infow("configuration", "allSettings", v.AllSettings())

	d, err := daemon.New(daemon.Config{
		Root:              cfg.root,
		IPCSocketPath:     cfg.ipcSocketPath,
		TargetUnit:        cfg.targetUnit,
		NucleusVersion:    cfg.nucleusVersion,
		QueueCapacity:     cfg.queueCapacity,
		UseSudoSystemctl:  cfg.useSudoSystemctl,
		ThingNameOverride: cfg.thingName,

		MQTT: jobslistener.Config{
			BrokerURL: cfg.mqttBrokerURL,
			ClientID:  cfg.mqttClientID,
			CertFile:  cfg.certFile,
			KeyFile:   cfg.keyFile,
			CAFile:    cfg.caFile,
		},
		Dataplane: dataplane.Config{
			Endpoint:  cfg.dataplaneEndpoint,
			ThingName: cfg.thingName,
			CertFile:  cfg.certFile,
			KeyFile:   cfg.keyFile,
			CAFile:    cfg.caFile,
		},
		TES: daemon.TESConfig{
			Endpoint:  cfg.tesEndpoint,
			AuthToken: cfg.tesAuthToken,
			Region:    cfg.tesRegion,
		},

		Logger: logger,
	})
	if err != nil {
		zapLogger.Fatalf("failed to initialize daemon: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	server := setupServer(cfg.healthPort, d)
	go func() {
		zapLogger.Infof("starting health/metrics server on port %d", cfg.healthPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Errorf("health/metrics server error: %v", err)
		}
	}()

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		zapLogger.Errorf("daemon exited with error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), healthShutdownTimeout)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	zapLogger.Info("ggdeploymentd stopped")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
