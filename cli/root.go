// ABOUTME: Root cobra command and global flags
// ABOUTME: Loads config, builds the logger, and opens the App on first use by a subcommand
package cli

import (
	"fmt"

	"github.com/harperreed/contactsync/config"
	"github.com/harperreed/contactsync/logging"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	dbPath     string
	logLevel   string
	logFormat  string

	app *App
}

// open returns the App, building it on first call, and stores its logger
// in the command context.
func (o *rootOptions) open(cmd *cobra.Command) (*App, error) {
	if o.app == nil {
		app, err := o.build(cmd)
		if err != nil {
			return nil, err
		}
		o.app = app
	}
	cmd.SetContext(logging.WithContext(cmd.Context(), o.app.Logger))
	return o.app, nil
}

func (o *rootOptions) build(cmd *cobra.Command) (*App, error) {

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dbPath != "" {
		cfg.Database.Path = o.dbPath
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}

	logger := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	return NewApp(cfg, logger)
}

func (o *rootOptions) close() {
	if o.app != nil {
		_ = o.app.Close()
	}
}

// Execute runs the command tree against os.Args.
func Execute(version string) error {
	opts := &rootOptions{}
	defer opts.close()
	return newRootCommand(version, opts).Execute()
}

func newRootCommand(version string, opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "contactsync",
		Short: "Two-way sync between local contacts and a Google Contacts account",
		Long: `contactsync keeps clients, partners, and personnel in the local database
in step with each user's linked Google Contacts directory.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", fmt.Sprintf("config file (default %s)", config.DefaultConfigPath()))
	root.PersistentFlags().StringVar(&opts.dbPath, "db-path", "", fmt.Sprintf("database path (default %s)", config.DefaultDatabasePath()))
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: text, json, logfmt")

	root.AddCommand(
		newAccountCommand(opts),
		newSyncCommand(opts),
		newSyncLogCommand(opts),
		newContactCommand(opts),
		newMCPCommand(opts, version),
	)
	return root
}
