package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/emberctl/internal/comm/cluster"
	"github.com/danmuck/emberctl/internal/observability"
	"github.com/danmuck/emberctl/internal/sim"
)

func main() {
	addr := flag.String("addr", ":9400", "listen address for driver sessions and halo links")
	metricsAddr := flag.String("metrics-addr", "", "serve /metrics on this address")
	tlsCert := flag.String("tls-cert", "", "node certificate for fabric connections")
	tlsKey := flag.String("tls-key", "", "node key for fabric connections")
	tlsCA := flag.String("tls-ca", "", "ca bundle for verifying fabric peers")
	mtls := flag.Bool("mtls", false, "require client certificates on accepted connections")
	flag.Parse()

	observability.InitLogger("emberd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *metricsAddr != "" {
		errs := observability.ServeStatus(*metricsAddr, "emberd")
		go func() {
			if err := <-errs; err != nil {
				log.Warn().Err(err).Msg("status server stopped")
			}
		}()
	}

	w := cluster.NewWorker(*addr, sim.ClusterRun)
	if *tlsCert != "" {
		sec := cluster.Security{
			Enabled:  true,
			Mutual:   *mtls,
			CertFile: *tlsCert,
			KeyFile:  *tlsKey,
			CAFile:   *tlsCA,
		}
		if err := w.Secure(sec); err != nil {
			log.Fatal().Err(err).Msg("invalid tls configuration")
		}
	}
	if err := w.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
}
