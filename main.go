package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jamiealquiza/envy"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/chaos-io/rembg/cache/memory"
	"github.com/chaos-io/rembg/server"
	"github.com/chaos-io/rembg/util"
)

const usage = "Usage: rembg [flags] <input_path> <output_path>"

func main() {
	cfg := defaultConfig()
	cfg.register(flag.CommandLine)

	// Parse environment variables
	envy.Parse("REMBG")

	// Parse commandline flags
	flag.Parse()

	log, err := util.NewLogger(os.Stderr, cfg.logLevel)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, cfg, flag.Args(), os.Stdout, log)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config, args []string, stdout io.Writer, log *slog.Logger) int {
	if cfg.serve {
		if err := serve(ctx, cfg, log); err != nil {
			log.Error("server stopped", "error", err)
			return 1
		}
		return 0
	}

	if len(args) < 2 {
		_, _ = fmt.Fprintln(stdout, usage)
		return 1
	}

	p, err := cfg.processor()
	if err != nil {
		_, _ = fmt.Fprintf(stdout, "Error: %v\n", err)
		return 1
	}
	p.Out = stdout
	p.Log = log

	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	if !p.ProcessImage(ctx, args[0], args[1]) {
		return 1
	}

	_, _ = fmt.Fprintln(stdout, "SUCCESS")
	return 0
}

func serve(ctx context.Context, cfg *config, log *slog.Logger) error {
	// Set GOMAXPROCS
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		log.Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		log.Warn("failed to set GOMAXPROCS", "error", err)
	}

	p, err := cfg.processor()
	if err != nil {
		return err
	}
	p.Log = log

	s := server.New(p, memory.New(), log)
	if err := s.SchedulePurge(cfg.cachePurge); err != nil {
		return err
	}
	return s.Run(ctx, cfg.listen)
}
