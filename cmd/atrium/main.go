// Command atrium hosts a fleet of configured LLM agents behind an HTTP API.
//
// Usage:
//
//	atrium serve --config atrium.yaml
//	atrium validate atrium.yaml
//	atrium chat sales --server http://localhost:8080
//	atrium index --provider chromem --collection docs ./knowledge
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/atriumhq/atrium/pkg/config"
	"github.com/atriumhq/atrium/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the agent host server."`
	Validate ValidateCmd `cmd:"" help:"Validate server and agent configuration files."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema for a configuration type."`
	Chat     ChatCmd     `cmd:"" help:"Chat with an agent on a running server."`
	Index    IndexCmd    `cmd:"" help:"Index documents into a vector collection."`

	Config     string `short:"c" help:"Path to server config file." type:"path"`
	ConfigType string `name:"config-type" help:"Config source (file, consul, etcd, zookeeper)." default:"file"`
	LogLevel   string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile    string `help:"Log file path (empty = stderr)."`
	LogFormat  string `help:"Log format (simple, verbose, json)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version, commit := buildVersion()
	if commit != "" {
		fmt.Printf("atrium version %s (%s)\n", version, commit)
	} else {
		fmt.Printf("atrium version %s\n", version)
	}
	return nil
}

// buildVersion reads the module version and VCS revision stamped into the
// binary.
func buildVersion() (version, commit string) {
	version = "dev"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version, ""
	}
	if info.Main.Version != "(devel)" && info.Main.Version != "" {
		version = info.Main.Version
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			commit = setting.Value
		}
	}
	return version, commit
}

// initLogger configures the process logger from the global flags. The
// returned cleanup closes the log file, if any.
func initLogger(cli *CLI) (func(), error) {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		f, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		cleanup = func() { _ = f.Close() }
	}

	logger.Init(level, output, cli.LogFormat)
	return cleanup, nil
}

func main() {
	// Load .env files before kong parses flags so env-backed defaults see
	// them.
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("atrium"),
		kong.Description("Atrium - config-first agent hosting server"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
