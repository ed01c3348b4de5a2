package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/testerbesterkali/marketer/internal/apiclient"
	"github.com/testerbesterkali/marketer/internal/guard"
	"github.com/testerbesterkali/marketer/internal/progress"
)

const postsStage = "posts"

func newWatchCmd(e *env, opts *rootOptions) *cobra.Command {
	var workspaceID, stageName string
	var maxNotices int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Trigger a stage through the API unless its result exists, and follow its progress",
		Long: "With --stage analysis or topics, watch runs the stage once and follows its steps.\n" +
			"With --stage posts, it streams post status changes for the workspace.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var stage guard.Stage
			if stageName != postsStage {
				kind, err := progress.ParseKind(stageName)
				if err != nil {
					return err
				}
				if stage, err = guard.StageFor(kind); err != nil {
					return err
				}
			}
			s, err := opts.session(e)
			if err != nil {
				return err
			}
			defer s.log.Sync()

			client := e.newClient(s.cfg.PublicURL, s.log).WithWSSecret(s.cfg.InternalWSSecret)
			out := cmd.OutOrStdout()
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()

			cache := guard.NewWorkspaceCache(client, 0)
			cache.Select(workspaceID)
			snap, err := cache.Load(ctx, workspaceID)
			if err != nil {
				return fmt.Errorf("load workspace: %w", err)
			}
			printSnapshot(out, snap)

			if stageName == postsStage {
				return streamPosts(ctx, out, client, workspaceID, maxNotices)
			}

			g := guard.New(guard.Options{
				Artifacts:  client,
				Trigger:    client,
				Subscriber: client,
				Log:        s.log,
				OnUpdate: func(u guard.Update) {
					marker := ""
					if u.Simulated {
						marker = " (estimated)"
					}
					fmt.Fprintf(out, "[%d] %s%s\n", u.Index+1, u.Step, marker)
				},
			})
			res, err := g.Run(ctx, stage, workspaceID)
			if err != nil {
				return err
			}
			if res.Skipped {
				fmt.Fprintln(out, "already done")
			} else if res.Completed {
				cache.Invalidate(workspaceID)
				if snap, err := cache.Load(ctx, workspaceID); err != nil {
					s.log.Warn("workspace_reload_failed", "workspace_id", workspaceID, "error", err)
				} else {
					printSnapshot(out, snap)
				}
			}
			fmt.Fprintf(out, "next: %s\n", res.NextPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "workspace id")
	cmd.Flags().StringVar(&stageName, "stage", string(progress.KindAnalysis), "analysis, topics or posts")
	cmd.Flags().IntVar(&maxNotices, "max", 0, "with --stage posts, stop after this many notices (0 runs until interrupted)")
	_ = cmd.MarkFlagRequired("workspace")
	return cmd
}

func printSnapshot(w io.Writer, snap *guard.Snapshot) {
	fmt.Fprintf(w, "workspace: %s (step %d)\n", snap.Workspace.Name, snap.Workspace.OnboardingStep)
	if snap.BrandProfile != nil {
		fmt.Fprintf(w, "brand: %s\n", snap.BrandProfile.BusinessName)
	}
}

func streamPosts(ctx context.Context, w io.Writer, client *apiclient.Client, workspaceID string, max int) error {
	sub, err := client.SubscribePosts(ctx, workspaceID)
	if err != nil {
		return err
	}
	defer sub.Close()
	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return fmt.Errorf("post updates closed by server")
			}
			if ev.Step != progress.StepPostUpdated {
				continue
			}
			fmt.Fprintf(w, "post %s %s\n", ev.PostID, ev.Status)
			seen++
			if max > 0 && seen >= max {
				return nil
			}
		}
	}
}
