// Cortex: long-term memory MCP server for conversational agents
//
// Cortex keeps three kinds of per-user memory behind one MCP server: a
// bounded episodic log, structured preferences extracted from it, and chat
// messages searchable by meaning.
//
// Usage:
//
//	cortex serve [--config cortex.yaml]   # Start MCP server (stdio transport)
//	cortex check [--config cortex.yaml]   # Validate configuration and open the stores
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/HendryAvila/cortex/internal/config"
	"github.com/HendryAvila/cortex/internal/logging"
	cortexserver "github.com/HendryAvila/cortex/internal/server"
)

// configEnv names the config file when --config is not given.
const configEnv = "CORTEX_CONFIG"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "check":
		if err := check(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v", "version":
		fmt.Printf("cortex v%s\n", cortexserver.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// loadConfig parses the subcommand flags, loads the configuration and
// installs logging on stderr.
func loadConfig(name string, args []string) (*config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configFlag := fs.String("config", os.Getenv(configEnv), "configuration path")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		return nil, err
	}
	if err := logging.Setup(cfg.Log, os.Stderr); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(args []string) error {
	cfg, err := loadConfig("serve", args)
	if err != nil {
		return err
	}

	// Cancel on interrupt so in-flight engine calls see ctx.Done().
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, cleanup, err := cortexserver.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(stdlog.New(logrus.WithField("component", "stdio").WriterLevel(logrus.ErrorLevel), "", 0))

	err = stdio.Listen(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// check opens and closes the engine once so configuration and storage
// problems surface before an MCP host starts the server.
func check(args []string) error {
	cfg, err := loadConfig("check", args)
	if err != nil {
		return err
	}

	engine, err := cortexserver.NewEngine(context.Background(), cfg)
	if err != nil {
		return err
	}
	st, err := engine.Index.Stats(context.Background())
	if cerr := engine.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "✅ Configuration OK\n")
	fmt.Fprintf(os.Stderr, "   Database: %s\n", cfg.Database.Path)
	fmt.Fprintf(os.Stderr, "   Vector index: %s, %d vectors of dimension %d\n", st.Backend, st.TotalVectors, st.Dimension)
	fmt.Fprintf(os.Stderr, "   Embedder: %s\n", cfg.Embedding.Provider)
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Cortex v%s — long-term memory MCP server

Usage:
  cortex serve [--config FILE]   Start the MCP server (stdio transport)
  cortex check [--config FILE]   Validate configuration and open the stores
  cortex version                 Print the version

Without --config, $%s is used; without either, built-in defaults apply.

Configuration:
  Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "cortex": {
        "command": "cortex",
        "args": ["serve", "--config", "/path/to/cortex.yaml"]
      }
    }
  }
`, cortexserver.Version, configEnv)
}
