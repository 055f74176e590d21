package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"lanpull/config"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage: lanpull [-v] <command> [flags]

commands:
  serve     share a folder and announce it on the LAN
  peers     list devices discovered on the LAN
  pull      download a folder or file from a peer
  history   show past transfers
`)
	flag.PrintDefaults()
}

func main() {
	verbose := flag.Bool("v", false, "log component activity to stderr")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli := &app{
		cfg:     cfg,
		cfgPath: cfgPath,
		log:     logger,
		out:     os.Stdout,
	}

	command, args := flag.Arg(0), flag.Args()[1:]
	switch command {
	case "serve":
		err = cli.serve(ctx, args)
	case "peers":
		err = cli.peers(ctx, args)
	case "pull":
		err = cli.pull(ctx, args)
	case "history":
		err = cli.history(args)
	default:
		usage()
		stop()
		os.Exit(2)
	}
	if err != nil {
		stop()
		log.Fatalf("%s: %v", command, err)
	}
}
