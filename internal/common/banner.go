package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the effective endpoints
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("OpsDeck", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("relay", config.Relay.URL).
		Str("backend", config.Backend.BaseURL).
		Str("progress_mode", config.Workflow.ProgressMode).
		Bool("history", config.Storage.Badger.Enabled).
		Msg("OpsDeck starting")
}
