// Command simulated drives the bench with a synthetic linear-elastic test
// and prints the stiffness measured by a drag across the curve.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ghalamif/TensileFlow"
)

const stiffness = 12.5

func main() {
	dir, err := os.MkdirTemp("", "tensile-sim")
	if err != nil {
		log.Fatal().Err(err).Msg("temp dir")
	}
	defer os.RemoveAll(dir)

	cfg := tensileflow.DefaultConfig()
	cfg.WAL.Dir = dir + "/wal"
	cfg.Export.Dir = dir + "/exports"
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Log.Level = "warn"

	col := tensileflow.NewExternalCollector("simulator")
	rt, err := tensileflow.NewRuntime(cfg, tensileflow.WithCollector(col))
	if err != nil {
		log.Fatal().Err(err).Msg("runtime")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start")
	}
	defer rt.Shutdown(context.Background())

	var sess tensileflow.Session
	if err := rt.Do(ctx, func(e *tensileflow.Engine) { sess, err = e.StartRecording("simulated") }); err != nil {
		log.Fatal().Err(err).Msg("do")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("start recording")
	}

	const n = 200
	for i := 0; i < n; i++ {
		ts := sess.Start.Add(time.Duration(i) * time.Millisecond)
		disp := float64(i) * 0.01
		if err := col.Publish(ctx, "disp", ts, disp); err != nil {
			log.Fatal().Err(err).Msg("publish")
		}
		if err := col.Publish(ctx, "force", ts, disp*stiffness); err != nil {
			log.Fatal().Err(err).Msg("publish")
		}
	}

	// wait for the pipeline to drain into the engine
	for {
		var points int
		_ = rt.Do(ctx, func(e *tensileflow.Engine) { points = len(e.Points()) })
		if points == n {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	var agg tensileflow.Aggregate
	_ = rt.Do(ctx, func(e *tensileflow.Engine) {
		if _, err = e.StopRecording(); err != nil {
			return
		}
		for _, ev := range []tensileflow.PointerEvent{
			{Kind: tensileflow.PointerDown, X: 0.2, Y: 0.2 * stiffness, AspectRatio: 1},
			{Kind: tensileflow.PointerMove, X: 1.5, Y: 1.5 * stiffness, AspectRatio: 1},
			{Kind: tensileflow.PointerUp, X: 1.5, Y: 1.5 * stiffness, AspectRatio: 1},
		} {
			e.Pointer(ev)
		}
		agg = e.Aggregate()
	})
	if err != nil {
		log.Fatal().Err(err).Msg("stop recording")
	}
	fmt.Printf("measured stiffness %.3f over %d session(s), expected %.3f\n", agg.Mean, agg.Count, stiffness)
}
