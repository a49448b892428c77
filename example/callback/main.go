package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ghalamif/TensileFlow"
)

func main() {
	flow, err := tensileflow.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	show := func(batch []tensileflow.Sample) error {
		for _, s := range batch {
			fmt.Printf("%s %s#%d = %g\n", s.Timestamp.Format(time.RFC3339Nano), s.Channel, s.Seq, s.Value)
		}
		return nil
	}

	if err := flow.Run(ctx, tensileflow.StreamOutCallback("stdout", show)); err != nil {
		log.Fatal().Err(err).Msg("runtime exited")
	}
}
