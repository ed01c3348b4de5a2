package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/testerbesterkali/marketer/internal/app"
)

func newStageCmd(e *env, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Run one pipeline stage in process against the configured database",
	}

	var workspaceID string
	workspaceStage := func(use, short string, fn func(ctx context.Context, a *app.App, id string) (interface{}, error)) *cobra.Command {
		c := &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, e, opts, func(ctx context.Context, a *app.App) (interface{}, error) {
					return fn(ctx, a, workspaceID)
				})
			},
		}
		c.Flags().StringVar(&workspaceID, "workspace", "", "workspace id")
		_ = c.MarkFlagRequired("workspace")
		return c
	}

	analyze := workspaceStage("analyze", "Scrape the workspace website and store its brand profile",
		func(ctx context.Context, a *app.App, id string) (interface{}, error) {
			return a.Stages.AnalyzeBrand(ctx, id)
		})
	topics := workspaceStage("topics", "Generate the two-week topic plan",
		func(ctx context.Context, a *app.App, id string) (interface{}, error) {
			return a.Stages.GenerateTopics(ctx, id)
		})
	posts := workspaceStage("posts", "Draft posts for the next batch of topics",
		func(ctx context.Context, a *app.App, id string) (interface{}, error) {
			return a.Stages.GenerateInitialPosts(ctx, id)
		})

	var postID string
	regenerate := &cobra.Command{
		Use:   "regenerate",
		Short: "Regenerate the caption and image of one post",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, e, opts, func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Stages.RegeneratePost(ctx, postID)
			})
		},
	}
	regenerate.Flags().StringVar(&postID, "post", "", "post id")
	_ = regenerate.MarkFlagRequired("post")

	cmd.AddCommand(analyze, topics, posts, regenerate)
	return cmd
}

func newPublishSweepCmd(e *env, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish-sweep",
		Short: "Publish every due post once and print the per-post results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, e, opts, func(ctx context.Context, a *app.App) (interface{}, error) {
				results, err := a.Publisher.Sweep(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"processed": len(results), "results": results}, nil
			})
		},
	}
}

// withApp opens the app, runs fn and prints its result as JSON.
func withApp(cmd *cobra.Command, e *env, opts *rootOptions, fn func(ctx context.Context, a *app.App) (interface{}, error)) error {
	s, err := opts.session(e)
	if err != nil {
		return err
	}
	defer s.log.Sync()

	ctx, cancel := opts.context(cmd.Context())
	defer cancel()

	a, err := e.openApp(ctx, s.cfg, s.log)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := fn(ctx, a)
	if err != nil {
		return fmt.Errorf("%s failed: %w", cmd.CommandPath(), err)
	}
	return printJSON(cmd.OutOrStdout(), out)
}
