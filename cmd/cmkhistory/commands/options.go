package commands

import (
	"log/slog"
	"os"

	"github.com/jlk/checkmk-llm-server-sub000/cmd/app"
	"github.com/jlk/checkmk-llm-server-sub000/internal/common"
)

// GlobalOptions holds the persistent flags shared by all commands.
type GlobalOptions struct {
	ConfigFile string
	Verbose    bool
}

// Load reads the configuration and builds the logger it asks for.
func (o *GlobalOptions) Load() (*app.Config, *slog.Logger, error) {
	cfg, err := app.LoadFile(o.ConfigFile)
	if err != nil {
		return nil, nil, err
	}

	level := common.ParseLogLevel(cfg.App.LogLevel)
	if o.Verbose {
		level = common.DebugLevel
	}

	logger := common.NewLogger(common.LoggerConfig{
		Level:  level,
		Output: os.Stderr,
		JSON:   cfg.App.LogJSON,
	}).With("component", cfg.App.Component)

	return cfg, logger, nil
}
