// Package cmd implements the pagefetch command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/pagefetch/pkg/logging"
	"github.com/Sternrassler/pagefetch/pkg/metrics"
	"github.com/Sternrassler/pagefetch/pkg/pagination"
	"github.com/Sternrassler/pagefetch/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config keys. Environment variables use the PAGEFETCH_ prefix with dots
// and dashes replaced by underscores, e.g. PAGEFETCH_BASE_URL.
const (
	keyBaseURL   = "base_url"
	keyUserAgent = "user_agent"
	keyRedisAddr = "redis_addr"
	keyTimeout   = "timeout"
	keyDebounce  = "debounce"
	keyLogLevel  = "log.level"
	keyLogPretty = "log.pretty"
)

// Execute runs the root command.
func Execute(ctx context.Context, version string) error {
	root := NewRootCmd()
	root.Version = version
	return root.ExecuteContext(ctx)
}

// NewRootCmd builds the command tree with its own viper instance.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	var (
		cfgFile string
		stats   bool
	)

	root := &cobra.Command{
		Use:   "pagefetch",
		Short: "Page through list operations of an envelope backend",
		Long: `pagefetch drives the pagination controller against a backend that speaks
the numbered-group envelope protocol. It fetches list pages or single
records and prints them as JSON lines.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadConfig(v, cfgFile); err != nil {
				return err
			}
			logging.Setup(logging.Config{
				Level:  logging.LogLevel(v.GetString(keyLogLevel)),
				Pretty: v.GetBool(keyLogPretty),
				Output: cmd.ErrOrStderr(),
			})
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if !stats {
				return nil
			}
			return metrics.WriteSummary(cmd.ErrOrStderr(), prometheus.DefaultGatherer)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./pagefetch.yaml)")
	flags.String("base-url", "", "backend base URL")
	flags.String("user-agent", "", "User-Agent header sent to the backend")
	flags.String("redis-addr", "", "Redis address; enables the shared error-budget tracker")
	flags.Duration("timeout", transport.DefaultTimeout, "per-request timeout")
	flags.Duration("debounce", pagination.DefaultDebounce, "trigger debounce window")
	flags.String("log-level", "info", "log level (debug, info, warn, error, disabled)")
	flags.Bool("log-pretty", false, "human-readable log output")
	flags.BoolVar(&stats, "stats", false, "print a metrics summary to stderr on success")

	// Bind flags to viper (errors are nil when flag exists)
	_ = v.BindPFlag(keyBaseURL, flags.Lookup("base-url"))
	_ = v.BindPFlag(keyUserAgent, flags.Lookup("user-agent"))
	_ = v.BindPFlag(keyRedisAddr, flags.Lookup("redis-addr"))
	_ = v.BindPFlag(keyTimeout, flags.Lookup("timeout"))
	_ = v.BindPFlag(keyDebounce, flags.Lookup("debounce"))
	_ = v.BindPFlag(keyLogLevel, flags.Lookup("log-level"))
	_ = v.BindPFlag(keyLogPretty, flags.Lookup("log-pretty"))

	root.AddCommand(newListCmd(v), newGetCmd(v))

	return root
}

func loadConfig(v *viper.Viper, cfgFile string) error {
	v.SetDefault(keyTimeout, transport.DefaultTimeout)
	v.SetDefault(keyDebounce, pagination.DefaultDebounce)
	v.SetDefault(keyLogLevel, "info")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pagefetch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/pagefetch")
	}

	v.SetEnvPrefix("PAGEFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	if v.GetDuration(keyDebounce) <= 0 {
		return fmt.Errorf("debounce must be positive (got %s)", v.GetDuration(keyDebounce))
	}
	return nil
}
