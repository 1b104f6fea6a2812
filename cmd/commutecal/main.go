package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"commutecal/internal/config"
	"commutecal/internal/gcal"
	appLog "commutecal/internal/log"
	"commutecal/internal/scheduler"
	"commutecal/internal/web"
)

const version = "0.3.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	envPath    string
	listen     string
	once       bool
	dryRun     bool
	plan       string
	auth       bool
}

func main() {
	flags := parseFlags()

	if err := config.LoadEnv(flags.envPath); err != nil {
		appLog.Error("failed to load env file", err, "path", flags.envPath)
		os.Exit(1)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.Info("commutecal starting", "version", version)

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"primary", conf.Calendars.Primary.Kind+":"+conf.Calendars.Primary.ID,
		"override", conf.Calendars.Override.Kind+":"+conf.Calendars.Override.ID,
		"routes", conf.Calendars.Routes.Kind+":"+conf.Calendars.Routes.ID,
		"weeks_ahead", conf.Schedule.WeeksAhead,
		"lamp", conf.Lamp.Enabled,
		"once", flags.once,
		"dry_run", flags.dryRun,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if flags.auth {
		if err := runAuth(ctx, conf); err != nil {
			appLog.Error("authorization failed", err)
			os.Exit(1)
		}
		appLog.Info("token stored", "path", conf.Google.TokenFile)
		return
	}

	a, err := wire(ctx, conf, flags.dryRun)
	if err != nil {
		appLog.Error("failed to initialize", err)
		os.Exit(1)
	}

	switch {
	case flags.plan != "":
		day, err := time.ParseInLocation(time.DateOnly, flags.plan, conf.Location())
		if err != nil {
			appLog.Error("invalid -plan date", err, "date", flags.plan)
			os.Exit(2)
		}
		if err := writePlanCSV(ctx, os.Stdout, a.newReconciler("plan"), day, conf.Location()); err != nil {
			appLog.Error("plan failed", err)
			os.Exit(1)
		}
		return

	case flags.once:
		if err := a.scheduler.RunOnce(ctx, scheduler.Today, scheduler.Week); err != nil {
			appLog.Error("reconcile failed", err)
			os.Exit(1)
		}
		appLog.Info("single pass finished")
		return
	}

	run(ctx, conf, a)
	appLog.Info("commutecal exiting")
}

func run(ctx context.Context, conf *config.Config, a *app) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.scheduler.Run(ctx)
	}()

	if conf.Listen != "" {
		srv := web.NewServer(conf, a.scheduler.Status(), a.newReconciler("web"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx); err != nil {
				appLog.Error("http server failed", err)
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()

	if a.lamp != nil {
		if err := a.lamp.Close(); err != nil {
			appLog.Warn("failed to switch lamp off", "err", err)
		}
	}
}

func runAuth(ctx context.Context, conf *config.Config) error {
	oc, err := gcal.OAuthConfig(conf.Google.CredentialsFile)
	if err != nil {
		return err
	}
	return gcal.Authorize(ctx, oc, conf.Google.TokenFile, func(url string) (string, error) {
		fmt.Fprintf(os.Stderr, "Open this URL, grant access and paste the code:\n\n%s\n\ncode: ", url)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimSpace(line), nil
	})
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/commutecal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envPath, "env", ".env", "Optional KEY=VALUE file applied before the config")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Reconcile today and the rest of this week once and exit")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "Write routes to an in-memory calendar instead of the configured one")
	flag.StringVar(&cfg.plan, "plan", "", "Print the target routes of a date (YYYY-MM-DD) as CSV and exit")
	flag.BoolVar(&cfg.auth, "auth", false, "Run the Google OAuth flow and store the token")

	flag.Parse()

	return cfg
}
