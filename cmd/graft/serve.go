package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/graft/internal/api"
	"github.com/samcharles93/graft/internal/checkpoint"
	"github.com/samcharles93/graft/internal/toy"
	"github.com/samcharles93/graft/internal/tuner"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		ckptDir     string
		vocab       int64
		dim         int64
		blocks      int64
		seed        int64
		rank        int64
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve a composed demo model over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.StringFlag{
				Name:        "checkpoint",
				Aliases:     []string{"c"},
				Usage:       "tuner checkpoint directory to load onto the demo backbone",
				Destination: &ckptDir,
			},
			&cli.Int64Flag{Name: "vocab", Usage: "demo vocab size", Value: 256, Destination: &vocab},
			&cli.Int64Flag{Name: "dim", Usage: "demo hidden width", Value: 64, Destination: &dim},
			&cli.Int64Flag{Name: "blocks", Usage: "demo block count", Value: 2, Destination: &blocks},
			&cli.Int64Flag{Name: "seed", Usage: "demo weight seed", Value: 42, Destination: &seed},
			&cli.Int64Flag{Name: "rank", Usage: "rank of the default low-rank set", Value: 8, Destination: &rank},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := newLog(cmd)
			applyServeConfig(cmd, loadConfig(), &addr)
			base := toy.NewBackbone(int(vocab), int(dim), int(blocks), seed)

			var (
				model *tuner.Model
				err   error
			)
			if ckptDir != "" {
				model, err = checkpoint.Load(base, ckptDir)
				if err != nil {
					return err
				}
				model.SetActive(model.Sets()...)
			} else {
				// Without a checkpoint, expose a fresh default low-rank
				// set over every linear so the API has something to tune.
				model, err = tuner.Attach(base, "", tuner.Config{
					Type:          tuner.TypeLoRA,
					TargetPattern: tuner.AllLinear,
					Rank:          int(rank),
					Seed:          seed,
				}, tuner.WithLogger(log))
				if err != nil {
					return err
				}
				model.SetActive(tuner.DefaultName)
			}

			server := api.NewServer(model, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "tuners", model.Sets())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
