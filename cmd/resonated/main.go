// ABOUTME: Entry point for the resonated audio daemon
// ABOUTME: Loads configuration, starts outputs and network services and plays files given as arguments
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonated/internal/config"
	"github.com/Resonate-Protocol/resonated/internal/control"
	"github.com/Resonate-Protocol/resonated/internal/discovery"
	"github.com/Resonate-Protocol/resonated/internal/idle"
	"github.com/Resonate-Protocol/resonated/internal/ntp"
	"github.com/Resonate-Protocol/resonated/internal/playback"
	"github.com/Resonate-Protocol/resonated/internal/player"
	"github.com/Resonate-Protocol/resonated/internal/ui"
	"github.com/Resonate-Protocol/resonated/internal/version"
)

var (
	configPath = flag.String("config", "", "Configuration file (default: $RESONATED_CONFIG)")
	logLevel   = flag.String("log-level", "", "Log level, overrides the configuration file")
	logFile    = flag.String("log-file", "", "Log file path, overrides the configuration file")
	browse     = flag.Bool("browse", false, "List daemons on the local network and exit")
	ntpQuery   = flag.String("ntp-query", "", "Measure the clock offset against a timing responder (host:port) and exit")
	showVer    = flag.Bool("version", false, "Print the version and exit")
	useTUI     = flag.Bool("tui", false, "Show the terminal status display")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("%s %s\n", version.Product, version.Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}
	if *useTUI && cfg.LogFile == "" {
		cfg.LogFile = "resonated.log"
	}

	closeLog, err := setupLogging(cfg, *useTUI)
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *browse:
		runBrowse(ctx)
		return
	case *ntpQuery != "":
		runNTPQuery(ctx, *ntpQuery)
		return
	}

	if err := run(ctx, cfg, flag.Args(), *useTUI); err != nil {
		logrus.Fatalf("%v", err)
	}
	logrus.Info("Daemon stopped")
}

func setupLogging(cfg *config.Config, tui bool) (func(), error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if cfg.LogFile == "" {
		logrus.SetOutput(os.Stdout)
		return func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}
	if tui {
		// TUI mode: log only to file
		logrus.SetOutput(f)
	} else {
		logrus.SetOutput(io.MultiWriter(os.Stdout, f))
	}
	return func() { _ = f.Close() }, nil
}

func run(ctx context.Context, cfg *config.Config, files []string, tui bool) error {
	logrus.WithField("version", version.Version).Infof("Starting %s: %s", version.Product, cfg.Name)

	outputs, err := player.New(cfg, idle.Default)
	if err != nil {
		return fmt.Errorf("failed to initialise outputs: %w", err)
	}
	defer outputs.Kill()

	session := playback.New(outputs, idle.Default)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	ctrl := control.New(control.Config{Name: cfg.Name, Addr: cfg.ControlAddr}, outputs, session, idle.Default)
	g.Go(func() error { return ctrl.ListenAndServe(ctx) })

	if cfg.NTPPort > 0 {
		srv, err := ntp.Listen(net.JoinHostPort("", strconv.Itoa(cfg.NTPPort)))
		if err != nil {
			logrus.WithError(err).Warn("Network time server disabled")
		} else {
			g.Go(func() error { return srv.Serve(ctx) })
		}
	}

	if cfg.Zeroconf.Enabled {
		name := cfg.Zeroconf.Name
		if name == "" {
			name = cfg.Name
		}
		pub := discovery.NewPublisher(discovery.Config{ServiceName: name, Port: cfg.Zeroconf.Port})
		if err := pub.Advertise(); err != nil {
			logrus.WithError(err).Warn("Zeroconf publication failed")
		} else {
			defer pub.Stop()
		}
	}

	if len(files) > 0 {
		g.Go(func() error {
			if err := session.PlayQueue(ctx, files); err != nil {
				logrus.WithError(err).Warn("Some files could not be played")
			}
			return nil
		})
	}

	if tui {
		display := ui.New(cfg.Name, session, outputs)
		g.Go(func() error {
			if err := display.Run(ctx, idle.Default); err != nil {
				return fmt.Errorf("status display: %w", err)
			}
			return nil
		})
		select {
		case <-display.QuitChan():
		case <-ctx.Done():
		}
		cancel()
	} else {
		logrus.Info("Press Ctrl-C to stop")
	}

	<-ctx.Done()
	logrus.Info("Shutting down...")

	session.Stop()
	return g.Wait()
}

func runBrowse(ctx context.Context) {
	found, err := discovery.Browse(ctx, 3*time.Second)
	if err != nil {
		logrus.WithError(err).Warn("Browse failed")
	}
	for _, s := range found {
		fmt.Printf("%s\t%s:%d\n", s.Name, s.Host, s.Port)
	}
}

func runNTPQuery(ctx context.Context, addr string) {
	clock := ntp.NewClock()
	for i := 0; i < 5; i++ {
		qctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		s, err := clock.Sync(qctx, addr)
		cancel()
		if err != nil {
			logrus.Fatalf("Timing query failed: %v", err)
		}
		fmt.Printf("rtt=%v offset=%v\n", s.RTT, s.Offset)
		time.Sleep(200 * time.Millisecond)
	}
	offset, rtt, q := clock.Stats()
	fmt.Printf("filtered offset=%dus rtt=%dus quality=%s\n", offset, rtt, q)
}
