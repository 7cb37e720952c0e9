package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kubev2v/vdc-migrator/internal/config"
	"github.com/kubev2v/vdc-migrator/pkg/log"
)

type GlobalOptions struct {
	ConfigFile string
	LogLevel   string

	// flags the user set explicitly win over file and environment
	changed func(name string) bool
}

func DefaultGlobalOptions() GlobalOptions {
	configFile := ""
	if _, err := os.Stat(config.DefaultConfigFile); err == nil {
		configFile = config.DefaultConfigFile
	}
	return GlobalOptions{
		ConfigFile: configFile,
		changed:    func(string) bool { return false },
	}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigFile, "config", "c", o.ConfigFile, "Path to the configuration file")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level: debug, info, warn or error")
}

func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	o.changed = cmd.Flags().Changed
	return nil
}

func (o *GlobalOptions) Validate(args []string) error {
	return nil
}

// LoadConfig layers defaults, the configuration file, VDC_MIGRATOR_* variables and
// the global flags, in that order.
func (o *GlobalOptions) LoadConfig() (*config.Config, error) {
	cfg := config.NewDefault()
	if o.ConfigFile != "" {
		if err := cfg.ParseConfigFile(o.ConfigFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if o.changed("log-level") {
		cfg.LogLevel = o.LogLevel
	}
	return cfg, nil
}

// InitLogging installs the global zap logger. The returned func flushes it.
func InitLogging(level string) func() {
	logger := log.InitLog(log.ParseLevel(level))
	undo := zap.ReplaceGlobals(logger)
	return func() {
		_ = logger.Sync()
		undo()
	}
}

func printConfig(cfg *config.Config) {
	zap.S().Named("cli").Debugf("configuration: %s", cfg)
}
