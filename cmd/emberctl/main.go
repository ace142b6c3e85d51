package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/emberctl/internal/comm/cluster"
	"github.com/danmuck/emberctl/internal/config"
	"github.com/danmuck/emberctl/internal/observability"
	"github.com/danmuck/emberctl/internal/sim"
)

func main() {
	file := flag.String("f", "", "scenario file (TOML); positional args are used when empty")
	workers := flag.Int("workers", 1, "local ranks to run in-process")
	join := flag.String("join", "", "comma-separated worker daemon addresses; enables cluster mode")
	metricsAddr := flag.String("metrics-addr", "", "serve /metrics on this address while running")
	tlsCert := flag.String("tls-cert", "", "client certificate for cluster connections")
	tlsKey := flag.String("tls-key", "", "client key for cluster connections")
	tlsCA := flag.String("tls-ca", "", "ca bundle for verifying cluster workers")
	flag.Parse()

	observability.InitLogger("emberctl")

	sc, err := loadScenario(*file, flag.Args())
	if err != nil {
		log.Fatal().Err(err).Msg("invalid scenario")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *metricsAddr != "" {
		errs := observability.ServeStatus(*metricsAddr, "emberctl")
		go func() {
			if err := <-errs; err != nil {
				log.Warn().Err(err).Msg("status server stopped")
			}
		}()
	}

	sec := cluster.Security{
		Enabled:  *tlsCert != "" || *tlsCA != "",
		CertFile: *tlsCert,
		KeyFile:  *tlsKey,
		CAFile:   *tlsCA,
	}

	started := time.Now()
	iterations, heat, err := run(ctx, sc, *join, *workers, sec)
	elapsed := time.Since(started)
	if err != nil {
		log.Fatal().Err(err).Msg("run failed")
	}

	printReport(os.Stdout, elapsed.Seconds(), iterations, heat)
}

func printReport(w io.Writer, seconds float64, iterations int, heat []float32) {
	fmt.Fprintf(w, "\nTime: %f\n", seconds)
	fmt.Fprintf(w, "Result: %d", iterations)
	for _, h := range heat {
		fmt.Fprintf(w, " %.6f", h)
	}
	fmt.Fprintln(w)
}

func loadScenario(file string, args []string) (config.Scenario, error) {
	if file != "" {
		return config.Load(file)
	}
	return config.ParseArgs(args)
}

func run(ctx context.Context, sc config.Scenario, join string, workers int, sec cluster.Security) (int, []float32, error) {
	if join != "" {
		d := cluster.NewDriver(strings.Split(join, ","))
		if err := d.Secure(sec); err != nil {
			return 0, nil, err
		}
		outcome, err := d.Run(ctx, sc)
		if err != nil {
			return 0, nil, err
		}
		return outcome.Iterations, sim.SourceHeat(sc, outcome.Grid), nil
	}
	report, err := sim.RunLocal(ctx, sc, workers)
	if err != nil {
		return 0, nil, err
	}
	return report.Iterations, report.SourceHeat, nil
}
