package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes the environment variable backing every flag, e.g.
// --valkey-url is read from OAUTH_GATEWAY_VALKEY_URL when not set.
const EnvPrefix = "OAUTH_GATEWAY_"

// version will be set by main
var version = "dev"

// SetVersion sets the version reported by the CLI and exported as service.version
func SetVersion(v string) {
	version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalOptions struct {
	debug     bool
	logFormat string
	storage   storageOptions
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "oauth-gateway",
		Short: "OAuth2 front layer with per-client hourly quotas",
		Long: `oauth-gateway identifies the client behind every token request, enforces
its hourly request quota, and forwards admitted requests to an upstream
token endpoint. Protected routes additionally require a bearer token
carrying the configured scope.

Every flag can also be set through an environment variable named
` + EnvPrefix + `<FLAG>, e.g. ` + EnvPrefix + `STORAGE_TYPE=valkey.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return applyEnv(cmd.Flags())
		},
	}
	root.SetVersionTemplate(`{{printf "oauth-gateway version %s\n" .Version}}`)

	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	opts.storage.register(root.PersistentFlags())

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newClientCmd(opts))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "oauth-gateway version %s\n", version)
		},
	}
}

// applyEnv fills every flag the user did not set from its environment variable.
func applyEnv(flags *pflag.FlagSet) error {
	var errs []string
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		value, ok := os.LookupEnv(envName(f.Name))
		if !ok || value == "" {
			return
		}
		if err := flags.Set(f.Name, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", envName(f.Name), err))
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func envName(flag string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func newLogger(w io.Writer, opts *globalOptions) *slog.Logger {
	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	if opts.logFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}
