package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		exitOn("fatal", runTUI(ctx))
		return
	}

	switch os.Args[1] {
	case "serve":
		exitOn("serve", runServe(ctx))
	case "dev":
		exitOn("dev", runDev(ctx))
	case "embed":
		exitOn("embed", runEmbed(ctx))
	case "ask":
		exitOn("ask", runAsk(ctx))
	case "doctor":
		exitOn("doctor", runDoctor())
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'quickchat --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func exitOn(prefix string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", prefix, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`quickchat - chat panel with an embedded QuickSight Quick Chat

USAGE:
    quickchat [COMMAND] [FLAGS]

COMMANDS:
    serve       Run the chat / embed-url backend
    dev         Run the backend and the TUI together
    embed       Mount Quick Chat headlessly and print its events
    ask TEXT    Send one chat message and print the reply
    doctor      Run health checks on your setup

    (no command) - Run the TUI against the configured backend

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)
    --env NAME         Environment: development or production
    --api URL          Backend base URL, overrides the environment default

CONFIGURATION:
    Config file: ./config.yaml, overlaid by config.<env>.yaml
    Environment: QUICKCHAT_* variables override config

EXAMPLES:
    quickchat serve                          # Start the backend on :8000
    quickchat --api http://localhost:8000    # TUI against a local backend
    quickchat embed --env production         # Watch a production embed session
    quickchat ask "top 5 regions by revenue"`)
}

// cliFlags holds the flags every command accepts.
type cliFlags struct {
	Config string
	Env    string
	API    string
	Args   []string // positional arguments after the command
}

// parseFlags extracts --config, --env and --api from args. Anything else that
// does not start with "-" is positional.
func parseFlags(args []string) cliFlags {
	flags := cliFlags{Config: os.Getenv("QUICKCHAT_CONFIG")}
	if flags.Config == "" {
		flags.Config = "config.yaml"
	}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config" && i+1 < len(args):
			flags.Config = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.Config = strings.TrimPrefix(arg, "--config=")
		case arg == "--env" && i+1 < len(args):
			flags.Env = args[i+1]
			i++
		case strings.HasPrefix(arg, "--env="):
			flags.Env = strings.TrimPrefix(arg, "--env=")
		case arg == "--api" && i+1 < len(args):
			flags.API = args[i+1]
			i++
		case strings.HasPrefix(arg, "--api="):
			flags.API = strings.TrimPrefix(arg, "--api=")
		case !strings.HasPrefix(arg, "-"):
			flags.Args = append(flags.Args, arg)
		}
	}
	return flags
}

// commandArgs returns the arguments after the command name, if any.
func commandArgs() []string {
	if len(os.Args) < 2 {
		return nil
	}
	if strings.HasPrefix(os.Args[1], "-") {
		return os.Args[1:]
	}
	return os.Args[2:]
}
