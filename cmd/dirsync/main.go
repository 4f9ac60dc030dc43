// Command dirsync synchronizes a directory tree with a single peer over
// one TCP connection, acting either as the listener or the initiator.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/calmh/dirsync/internal/logger"
	"github.com/calmh/dirsync/internal/session"
)

var cli struct {
	Serve     string  `name:"serve" short:"s" placeholder:"IP:PORT" help:"Connect to a listening peer as the initiator."`
	Daemon    string  `name:"daemon" short:"d" placeholder:"PORT" help:"Listen for a connecting peer."`
	Path      string  `arg:"" help:"Directory tree to synchronize."`
	Rate      float64 `name:"rate" short:"r" default:"0" help:"Transmit rate limit in Hz, 0 = unlimited."`
	Yes       bool    `name:"yes" short:"y" help:"Auto-sync: skip the confirmation prompt."`
	DryRun    bool    `name:"dry-run" help:"Export the planned operations without executing them."`
	ExitAfter bool    `name:"exit-after-sync" help:"Listener only: return after the first completed sync."`
	MaxSize   int64   `name:"max-file-size" default:"68719476735" help:"Override the per-file size cap, in bytes."`
	Verbose   bool    `name:"verbose" help:"Also echo debug-level messages to standard error."`
}

func main() {
	kong.Parse(&cli,
		kong.Description("Peer-to-peer directory tree synchronization over a single TCP stream."),
	)

	if cli.Verbose {
		logger.Default.AddHandler(logger.LevelDebug, func(_ logger.Level, msg string) {
			fmt.Fprintln(os.Stderr, "DEBUG:", msg)
		})
	}

	if (cli.Serve == "") == (cli.Daemon == "") {
		fmt.Fprintln(os.Stderr, "dirsync: exactly one of --serve or --daemon is required")
		os.Exit(1)
	}

	cfg := session.Config{
		RootPath:      cli.Path,
		RateHz:        cli.Rate,
		AutoSync:      cli.Yes,
		DryRun:        cli.DryRun,
		ExitAfterSync: cli.ExitAfter,
		MaxFileSize:   cli.MaxSize,
		Prompt:        promptYesNo,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if cli.Daemon != "" {
		err = session.Listen(ctx, ":"+cli.Daemon, cfg)
	} else {
		err = session.Connect(ctx, cli.Serve, cfg)
	}
	if err != nil {
		logger.Default.Fatalln(err)
	}
}

// promptYesNo is the default session.Config.Prompt: it asks the operator
// on stdin/stdout whether to proceed with n planned operations.
func promptYesNo(n int) bool {
	fmt.Printf("%d operation(s) planned. Proceed? [y/N] ", n)
	sc := bufio.NewScanner(os.Stdin)
	if !sc.Scan() {
		return false
	}
	switch sc.Text() {
	case "y", "Y", "yes":
		return true
	default:
		return false
	}
}
