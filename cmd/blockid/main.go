package main

import (
	"errors"
	"os"
	"path"

	"github.com/alecthomas/kong"

	"github.com/julianstephens/blockid/internal/blockid"
	"github.com/julianstephens/blockid/internal/cli"
	"github.com/julianstephens/blockid/internal/logger"
)

var (
	version = "blockid v0.1.0"
)

type LogOpts struct {
	Level  string `help:"Logging level (debug, info, warn, error)" default:"info" envvar:"BLOCKID_LOG_LEVEL"`
	Debug  bool   `help:"Enable debug logging (overrides --level)" envvar:"BLOCKID_DEBUG"`
	Stream bool   `help:"Log to stdout/stderr only, without the log file" envvar:"BLOCKID_LOG_STREAM"`
	Dir    string `help:"Directory for rotating log files" type:"path" envvar:"BLOCKID_LOG_DIR"`
}

type CLI struct {
	Init  cli.InitCmd  `cmd:"" help:"Create a sequence in a store"`
	Next  cli.NextCmd  `cmd:"" help:"Print the next identifiers of a sequence"`
	Peek  cli.PeekCmd  `cmd:"" help:"Show the next block start without reserving it"`
	Bench cli.BenchCmd `cmd:"" help:"Generate identifiers from concurrent workers and check for duplicates"`
	Serve cli.ServeCmd `cmd:"" help:"Serve identifiers over HTTP"`

	LogOpts LogOpts          `embed:"" prefix:"log-" help:"Logging options"`
	Version kong.VersionFlag `help:"Show version information" short:"V"`
}

func createLogger(opts LogOpts) (logger.Logger, error) {
	var level string
	if opts.Debug {
		level = "debug"
	} else {
		level = opts.Level
	}
	if _, err := logger.ParseLevel(level); err != nil {
		return nil, err
	}

	consoleLogger := logger.NewConsoleLogger(level)

	if opts.Stream {
		return consoleLogger, nil
	}

	logDir := opts.Dir
	if logDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		logDir = path.Join(homeDir, blockid.DefaultAppDir, blockid.DefaultLogDir)
	}
	fileLogger, err := logger.NewFileLogger(
		logDir,
		blockid.DefaultLogFileName,
		blockid.DefaultLogMaxSize,
		blockid.DefaultLogMaxBackups,
	)
	if err != nil {
		return nil, err
	}

	return logger.NewMultiLogger(fileLogger, consoleLogger), nil
}

func main() {
	cliApp := &CLI{}
	vars := kong.Vars{"version": version}
	for k, v := range cli.Vars() {
		vars[k] = v
	}
	ctx := kong.Parse(cliApp,
		kong.Name("blockid"),
		kong.Description("Block-based unique identifier allocator"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		vars,
	)

	lg, err := createLogger(cliApp.LogOpts)
	if err != nil {
		ctx.FatalIfErrorf(err)
	}
	ctx.BindTo(lg, (*logger.Logger)(nil))

	defer func() {
		if c, ok := lg.(logger.Closeable); ok {
			_ = c.Close()
		}
	}()

	err = ctx.Run()
	if err != nil {
		lg.Error("command failed", err, "command", ctx.Command())
		if errors.Is(err, cli.ErrBenchFailed) {
			os.Exit(2)
		}
		ctx.FatalIfErrorf(err)
	}
}
