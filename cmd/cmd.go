package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/shipengqi/registry-api/pkg/config"
	"github.com/shipengqi/registry-api/pkg/docker/registry/client"
	"github.com/shipengqi/registry-api/pkg/images"
	"github.com/shipengqi/registry-api/pkg/log"
	"github.com/shipengqi/registry-api/pkg/metrics"
)

type globalOptions struct {
	ConfigFile  string
	MetricsAddr string
}

var (
	_opts = &globalOptions{}
	// Conf is the configuration loaded before every sub command runs.
	Conf *config.Config
)

func addGlobalFlags(flagSet *pflag.FlagSet) {
	defaults := config.Default()
	flagSet.StringVarP(&_opts.ConfigFile, "config", "c", "", "Config file path.")
	flagSet.String("registry", defaults.Registry, "Registry base URL.")
	flagSet.StringP("username", "u", "", "Registry username.")
	flagSet.String("api-key", "", "Registry API key or password.")
	flagSet.StringP("repository", "r", "", "Repository, e.g. library/nginx.")
	flagSet.String("auth-url", "", "Token endpoint to use before the registry sends a challenge.")
	flagSet.Duration("timeout", defaults.Timeout, "Timeout of a single HTTP request.")
	flagSet.Int("rate-limit", 0, "Maximum requests per second, 0 means unlimited.")
	flagSet.Duration("cache-ttl", 0, "Lifetime of cached tags and manifests, 0 means forever.")
	flagSet.String("log-file", "", "Log file path, logs go to stderr when empty.")
	flagSet.String("log-level", defaults.LogLevel, "Log level.")
	flagSet.StringVar(&_opts.MetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090.")
}

func NewRegistryAPICommand() *cobra.Command {
	var logCloser io.Closer
	rootCmd := &cobra.Command{
		Use:           "registry-api",
		Short:         "registry-api works with the tags and manifests of a docker registry repository.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.HasParent() {
				return nil
			}
			conf, err := config.Load(_opts.ConfigFile, cmd.Flags())
			if err != nil {
				return err
			}
			Conf = conf
			logCloser, err = log.Init(conf.LogFile, conf.LogLevel)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				_ = logCloser.Close()
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	// Disable commands sorting
	cobra.EnableCommandSorting = false
	rootCmd.PersistentFlags().SortFlags = false
	addGlobalFlags(rootCmd.PersistentFlags())
	// Add sub commands
	rootCmd.AddCommand(tagsCommand())
	rootCmd.AddCommand(manifestCommand())
	rootCmd.AddCommand(searchCommand())
	rootCmd.AddCommand(retagCommand())
	return rootCmd
}

// Execute runs the root command until it finishes or a signal arrives.
func Execute() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(ctx, cancel)

	if err := NewRegistryAPICommand().ExecuteContext(ctx); err != nil {
		log.Error("Error:", err)
		return 1
	}
	return 0
}

// newClient builds a registry client and starts the metrics endpoint when
// one is configured.
func newClient(ctx context.Context, opts client.Options) (*client.Client, error) {
	if _opts.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts.Metrics = metrics.New(reg)
		errc := metrics.StartServer(ctx, _opts.MetricsAddr, reg)
		go func() {
			if err := <-errc; err != nil {
				log.Warnf("Metrics server stopped: %v", err)
			}
		}()
	}
	log.Debugf("Using repository %s on %s", opts.Repository, opts.Registry)
	return client.New(opts)
}

// clientFor returns a client and the tag named by ref. A bare tag refers to
// the configured repository, while an image reference such as
// croudtech/core:2.23.0 names its own repository.
func clientFor(ctx context.Context, ref string) (*client.Client, string, error) {
	opts := Conf.ClientOptions()
	tag := ref
	if strings.ContainsAny(ref, "/:@") {
		img, err := images.ParseImage(ref)
		if err != nil {
			return nil, "", err
		}
		opts.Repository, tag = img.Name, img.Tag
		if !img.IsDockerHub() {
			opts.Registry = "https://" + img.Domain
		}
	}
	c, err := newClient(ctx, opts)
	return c, tag, err
}

func handleSignals(ctx context.Context, cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(c)

	select {
	case s := <-c:
		switch s {
		case syscall.SIGINT: // kill -SIGINT XXXX or Ctrl+c
			log.Warn("[SIGNAL] Catch SIGINT")
		case syscall.SIGTERM: // kill -SIGTERM XXXX
			log.Warn("[SIGNAL] Catch SIGTERM")
		case syscall.SIGQUIT: // kill -SIGQUIT XXXX
			log.Warn("[SIGNAL] Catch SIGQUIT")
		}
		cancel()
	case <-ctx.Done():
	}
}
