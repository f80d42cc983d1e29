// Package cli is the command dispatcher for the kraft binary. The default
// command runs the TUI; the rest are one-shot REST verbs that print JSON or
// pretty text, useful for scripting against a KRAFT backend.
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/research-kreat/kreat-agentic/internal/api"
	"github.com/research-kreat/kreat-agentic/internal/config"
	"github.com/research-kreat/kreat-agentic/internal/flow"
	"github.com/research-kreat/kreat-agentic/internal/state"
	"github.com/research-kreat/kreat-agentic/internal/utils"
)

func Run() int {
	if len(os.Args) < 2 {
		return runTUI(os.Args[1:])
	}

	cmd := os.Args[1]
	if strings.HasPrefix(cmd, "-") {
		return runTUI(os.Args[1:])
	}
	switch cmd {
	case "tui":
		return runTUI(os.Args[2:])
	case "sessions":
		return runSessions(os.Args[2:])
	case "new":
		return runNew(os.Args[2:])
	case "send":
		return runSend(os.Args[2:])
	case "delete":
		return runDelete(os.Args[2:])
	case "clear":
		return runClear(os.Args[2:])
	case "rename":
		return runRename(os.Args[2:])
	case "export":
		return runExport(os.Args[2:])
	default:
		usage()
		return 1
	}
}

func usage() {
	fmt.Println("kraft <command> [options]")
	fmt.Println("Commands: tui, sessions, new, send, delete, clear, rename, export")
}

// setup builds the shared client plumbing for the one-shot verbs.
func setup(fs *flag.FlagSet, args []string) (*config.Config, *api.Client, *utils.Logger, error) {
	apiURL := fs.String("api-url", "", "backend base URL (overrides KRAFT_API_URL)")
	verbose := fs.Bool("verbose", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, nil, nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	if *apiURL != "" {
		cfg.APIURL = *apiURL
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}

	logger := utils.NewLogger(cfg.LogLevel)
	cache := state.NewDiskCache(cfg.DataDir, cfg.RecentResults)
	identity, err := cache.LoadIdentity()
	if err != nil {
		return nil, nil, nil, err
	}
	client := api.NewClient(cfg.APIURL, identity.UserID, &http.Client{Timeout: cfg.RequestTimeout}, logger)
	return cfg, client, logger, nil
}

func runSessions(args []string) int {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	typ := fs.String("type", "", "filter by session type")
	limit := fs.Int("limit", 10, "max sessions")
	skip := fs.Int("skip", 0, "skip past earlier results")
	format := fs.String("format", "pretty", "output format: json|pretty")
	_, client, _, err := setup(fs, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	sessions, err := client.ListSessions(context.Background(), *typ, *limit, *skip)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *format == "json" {
		printJSON(sessions)
		return 0
	}
	for _, s := range sessions {
		fmt.Printf("%-36s  %-12s  %s\n", s.ID, s.Type, s.Name)
	}
	return 0
}

func runNew(args []string) int {
	fs := flag.NewFlagSet("new", flag.ContinueOnError)
	typ := fs.String("type", "idea", "session type")
	name := fs.String("name", "", "session name")
	_, client, _, err := setup(fs, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	session, err := client.CreateSession(context.Background(), *typ, *name)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	printJSON(session)
	return 0
}

func runSend(args []string) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	sessionID := fs.String("session", "", "session id (required)")
	_, client, _, err := setup(fs, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *sessionID == "" || fs.NArg() < 1 {
		fmt.Println("usage: kraft send -session <id> \"message\"")
		return 1
	}

	result, err := client.SendChat(context.Background(), *sessionID, fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(result.Response)
	return 0
}

func runDelete(args []string) int {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	_, client, _, err := setup(fs, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Println("usage: kraft delete <session-id>")
		return 1
	}
	if err := client.DeleteSession(context.Background(), fs.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("deleted")
	return 0
}

func runClear(args []string) int {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	_, client, _, err := setup(fs, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Println("usage: kraft clear <session-id>")
		return 1
	}
	if err := client.ClearSession(context.Background(), fs.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("cleared")
	return 0
}

func runRename(args []string) int {
	fs := flag.NewFlagSet("rename", flag.ContinueOnError)
	_, client, _, err := setup(fs, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if fs.NArg() < 2 {
		fmt.Println("usage: kraft rename <session-id> \"new name\"")
		return 1
	}
	if err := client.RenameSession(context.Background(), fs.Arg(0), fs.Arg(1)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("renamed")
	return 0
}

func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	dir := fs.String("dir", ".", "output directory")
	cfg, client, logger, err := setup(fs, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Println("usage: kraft export [-dir out] <session-id>")
		return 1
	}

	store := state.NewStore(cfg.ActivityLines)
	cache := state.NewDiskCache(cfg.DataDir, cfg.RecentResults)
	engine := flow.NewEngine(cfg, client, store, cache, logger)
	if err := engine.Open(context.Background(), fs.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	path, err := engine.Export(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(path)
	return 0
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
