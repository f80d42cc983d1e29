package cli

import (
	"flag"
	"fmt"
	"os"

	"github.com/research-kreat/kreat-agentic/internal/config"
	"github.com/research-kreat/kreat-agentic/internal/tui"
	"github.com/research-kreat/kreat-agentic/internal/utils"
)

func runTUI(args []string) int {
	fs := flag.NewFlagSet("tui", flag.ContinueOnError)
	apiURL := fs.String("api-url", "", "backend base URL (overrides KRAFT_API_URL)")
	sessionType := fs.String("type", "", "session type for new conversations")
	streaming := fs.Bool("stream", false, "consume chat replies as a chunk stream")
	verbose := fs.Bool("verbose", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *apiURL != "" {
		cfg.APIURL = *apiURL
	}
	if *sessionType != "" {
		cfg.SessionType = *sessionType
	}
	if *streaming {
		cfg.Streaming = true
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}

	logger := utils.NewLogger(cfg.LogLevel)
	if err := tui.Run(cfg, logger); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	return 0
}
