package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"peershare/internal/client"
	"peershare/internal/config"
	"peershare/internal/database"
)

const usage = `usage: client [flags] <action> [arg]

actions:
  list             list files known to the tracker
  get <id>         add a tracker file to the local download list
  newfile <path>   publish a local file and start seeding it on the next run
  files            show local files and download progress
  run              seed and download until interrupted

flags:
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.Client.TrackerHost, "tracker", cfg.Client.TrackerHost, "tracker host")
	flag.IntVar(&cfg.Client.TrackerPort, "tracker-port", cfg.Client.TrackerPort, "tracker port")
	flag.StringVar(&cfg.Client.WorkDir, "workdir", cfg.Client.WorkDir, "directory for state and downloads")
	flag.StringVar(&cfg.Client.ListenAddr, "listen", cfg.Client.ListenAddr, "seeding listen address")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	logger := cfg.Log.NewLogger(os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.Error().Err(err).Str("action", flag.Arg(0)).Msg("❌ failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, action string, args []string) error {
	db, err := database.New(ctx, cfg, database.RoleClient, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := client.New(ctx, cfg.Client, db.Blobs, logger)
	if err != nil {
		return err
	}

	switch action {
	case "list":
		files, err := c.List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSIZE\tPARTS")
		for _, f := range files {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%d\n", f.ID, f.Name, f.Size, f.PartsCount())
		}
		return tw.Flush()

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("get needs exactly one file id")
		}
		id, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid file id %q: %w", args[0], err)
		}
		entry, err := c.Get(ctx, int32(id))
		if err != nil {
			return err
		}
		fmt.Printf("✓ added %s, run the client to download it\n", entry)
		return nil

	case "newfile":
		if len(args) != 1 {
			return fmt.Errorf("newfile needs exactly one path")
		}
		entry, err := c.Publish(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ published %s\n", entry)
		return nil

	case "files":
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tPROGRESS\tPATH")
		for _, f := range c.Files() {
			fmt.Fprintf(tw, "%d\t%s\t%d/%d\t%s\n", f.Entry.ID, f.Entry.Name, f.Have, f.Total, f.Path)
		}
		return tw.Flush()

	case "run":
		if err := c.Run(client.LogHandler(logger)); err != nil {
			return err
		}
		<-ctx.Done()
		logger.Info().Msg("🛑 shutting down...")
		return c.Shutdown()

	default:
		flag.Usage()
		return fmt.Errorf("unknown action %q", action)
	}
}
