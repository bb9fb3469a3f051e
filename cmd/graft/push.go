package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/graft/internal/hub"
)

func pushCmd() *cli.Command {
	var (
		dir   string
		repo  string
		url   string
		token string
	)
	return &cli.Command{
		Name:  "push",
		Usage: "Upload a checkpoint directory to a model hub",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dir",
				Aliases:     []string{"d"},
				Usage:       "checkpoint directory to upload",
				Required:    true,
				Destination: &dir,
			},
			&cli.StringFlag{
				Name:        "repo",
				Aliases:     []string{"r"},
				Usage:       "hub repository id (e.g. user/model-tuners)",
				Required:    true,
				Destination: &repo,
			},
			&cli.StringFlag{
				Name:        "url",
				Usage:       "hub base URL",
				Destination: &url,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "hub access token (defaults to GRAFT_HUB_TOKEN)",
				Destination: &token,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := newLog(cmd)

			if url == "" {
				url = loadConfig().HubURL
			}
			if url == "" {
				return fmt.Errorf("no hub URL given; pass --url or set hub_url in the config file")
			}
			if token == "" {
				token = os.Getenv("GRAFT_HUB_TOKEN")
			}

			client := hub.NewClient(url)
			log.Info("uploading checkpoint", "dir", dir, "repo", repo, "url", url)
			if err := client.Push(ctx, dir, repo, token); err != nil {
				return fmt.Errorf("push: %w", err)
			}
			log.Info("upload complete", "repo", repo)
			return nil
		},
	}
}
