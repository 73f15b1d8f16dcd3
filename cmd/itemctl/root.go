package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jacentio/dataapi/store"
)

const (
	// Version of itemctl.
	Version = "0.4.0"

	// Wrap is the number of characters to wrap the help text at.
	Wrap = 50
)

// app carries the state shared by the sub-commands of one invocation.
type app struct {
	v        *viper.Viper
	logger   *slog.Logger
	registry *store.Registry
	handler  *store.Handler
	backend  store.StorageBackend
	source   store.SchemaSource
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "itemctl",
		Short: "operate on Data API items",
		Long: fmt.Sprintf(`itemctl (v%s)

Reads and writes Data API items through the storage engine, against
DynamoDB, PostgreSQL, SQLite or an in-memory store.`, Version),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaults := store.DefaultConfig()
	flags := root.PersistentFlags()
	flags.String("config", "", WrapString("path to a config file (yaml, json or toml)"))
	flags.String("api", "", WrapString("name of the Data API"))
	flags.String("backend", "dynamo", WrapString("storage backend (dynamo, postgres, sqlite, memory)"))
	flags.String("table", "", WrapString("resource table name (defaults to the API name)"))
	flags.String("dsn", "", WrapString("database connection string for relational backends"))
	flags.String("region", "", WrapString("region used in item ARNs (defaults to the AWS region)"))
	flags.String("account", "", WrapString("account used in item ARNs"))
	flags.String("namespace", defaults.Namespace, WrapString("ARN namespace"))
	flags.String("delete-mode", string(defaults.DeleteMode), WrapString("default delete mode (Soft, Hard, tombstone)"))
	flags.Bool("allow-delete-mode-change", false, WrapString("honour per-request delete mode overrides"))
	flags.StringSlice("resource-indexes", nil, WrapString("indexed resource attributes"))
	flags.StringSlice("metadata-indexes", nil, WrapString("indexed metadata attributes"))
	flags.Int("schema-refresh", defaults.SchemaRefreshHitCount, WrapString("validations between schema reloads"))
	flags.Bool("allow-member-writes", false, WrapString("allow writes to items linked to another item master"))
	flags.Bool("strict-occ", false, WrapString("require ItemVersion on updates of existing items"))
	flags.Int("max-response-size", defaults.MaxResponseSize, WrapString("maximum items returned by find and list"))
	flags.String("schema-file", "", WrapString("load schemas from a JSON or YAML file instead of the control table"))
	flags.String("control-table", "", WrapString("API control table holding schemas (dynamo backend)"))
	flags.String("stage", "", WrapString("deployment stage appended to API names in the control table"))
	flags.String("endpoint", "", WrapString("DynamoDB endpoint override, e.g. for DynamoDB Local"))
	flags.String("caller", "itemctl", WrapString("caller identity stamped into LastUpdatedBy"))
	flags.String("log-level", "warn", WrapString("log level (debug, info, warn, error)"))
	flags.Bool("metrics", false, WrapString("print Prometheus metrics to stderr on exit"))

	root.PersistentPreRun = func(*cobra.Command, []string) { a.initConfig(root) }

	root.AddCommand(
		a.checkCmd(),
		a.getCmd(),
		a.metadataCmd(),
		a.updateCmd(),
		a.deleteCmd(),
		a.restoreCmd(),
		a.masterCmd(),
		a.findCmd(),
		a.listCmd(),
		a.usageCmd(),
		a.streamsCmd(),
		a.schemaCmd(),
		a.initTablesCmd(),
		a.decodeStreamCmd(),
		versionCmd(),
	)
	return root
}

// initConfig loads .env files and binds flags and the environment.
func (a *app) initConfig(root *cobra.Command) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	a.v.SetEnvPrefix("dataapi")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	_ = a.v.BindPFlags(root.PersistentFlags())

	if path := a.v.GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			fmt.Fprintln(os.Stderr, "Warning: reading config:", err)
		}
	}
}

// setup builds the handler before a sub-command that needs it.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := a.setupLogger(cmd); err != nil {
		return err
	}
	api, err := a.requireAPI()
	if err != nil {
		return err
	}
	a.registry = store.NewRegistry(func(api string) (*store.Handler, error) {
		return a.buildHandler(cmd.Context(), api)
	})
	h, err := a.registry.Handler(api)
	if err != nil {
		return err
	}
	a.handler = h
	return nil
}

// teardown releases the handler and prints metrics when asked.
func (a *app) teardown(cmd *cobra.Command, _ []string) error {
	var err error
	if a.registry != nil {
		err = a.registry.Close()
	}
	if a.v.GetBool("metrics") {
		metrics.WritePrometheus(cmd.ErrOrStderr(), false)
	}
	return err
}

// withHandler marks a command as needing a handler.
func (a *app) withHandler(cmd *cobra.Command) *cobra.Command {
	cmd.PreRunE = a.setup
	cmd.PostRunE = a.teardown
	return cmd
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of itemctl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "itemctl v%s\n", Version)
		},
	}
}

// exitCode maps engine errors onto process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidArguments):
		return 2
	case errors.Is(err, store.ErrConstraintViolation):
		return 3
	case errors.Is(err, store.ErrNotFound):
		return 4
	case errors.Is(err, store.ErrSchemaViolation):
		return 5
	case errors.Is(err, store.ErrUnimplemented):
		return 6
	}
	return 1
}

// WrapString wraps a string at Wrap characters.
func WrapString(text string) string {
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > Wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteString(" ")
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}
