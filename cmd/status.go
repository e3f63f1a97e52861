package cmd

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/campus-crawler/internal/checkpoint"
	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

// newStatusCmd creates the 'status' subcommand, which summarizes the stored
// checkpoint without starting a crawl.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Prints a summary of the stored checkpoint",
		RunE:  runStatusCommand,
	}
	cmd.Flags().Bool("json", false, "print the summary as JSON")
	cmd.Flags().Int("top", 10, "number of hosts to list by saved pages")
	return cmd
}

type statusSummary struct {
	SessionID     string      `json:"session_id"`
	SessionStart  time.Time   `json:"session_start"`
	CheckpointAt  time.Time   `json:"checkpoint_at"`
	Processed     int         `json:"processed"`
	SavedPages    int         `json:"saved_pages"`
	Visited       int         `json:"visited"`
	Failed        int         `json:"failed"`
	PendingRetry  int         `json:"pending_retry"`
	PriorityQueue int         `json:"priority_queue"`
	NormalQueue   int         `json:"normal_queue"`
	TopHosts      []hostCount `json:"top_hosts"`
}

type hostCount struct {
	Host  string `json:"host"`
	Saved int    `json:"saved"`
}

func runStatusCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	top, _ := cmd.Flags().GetInt("top")

	path := appInstance.Config.Checkpoint.Path
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "no checkpoint at", path)
		return err
	} else if err != nil {
		return fmt.Errorf("stat checkpoint: %w", err)
	}

	s := &crawlSession{}
	defer s.Close()
	store, err := buildCheckpointStore(appInstance.Config.Checkpoint, appInstance.Logger, s)
	if err != nil {
		return err
	}
	state, err := store.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if state.Empty() {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "no checkpoint at", path)
		return err
	}

	summary := summarize(state, top)
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	return printSummary(cmd.OutOrStdout(), summary)
}

func summarize(state checkpoint.State, top int) statusSummary {
	out := statusSummary{
		SessionID:    state.SessionID,
		SessionStart: state.SessionStart,
		CheckpointAt: state.CheckpointAt,
		Processed:    state.Processed,
		SavedPages:   state.SavedPages,
		Visited:      len(state.Visited),
		Failed:       len(state.Failed),
	}
	failed := make(map[string]struct{}, len(state.Failed))
	for _, u := range state.Failed {
		failed[u] = struct{}{}
	}
	for u, attempts := range state.RetryCounts {
		if _, done := failed[u]; attempts > 0 && !done {
			out.PendingRetry++
		}
	}
	for _, q := range state.Frontier {
		if q.Lane == crawler.LanePriority {
			out.PriorityQueue++
		} else {
			out.NormalQueue++
		}
	}
	for host, saved := range state.DomainStats {
		out.TopHosts = append(out.TopHosts, hostCount{Host: host, Saved: saved})
	}
	slices.SortFunc(out.TopHosts, func(a, b hostCount) int {
		if c := cmp.Compare(b.Saved, a.Saved); c != 0 {
			return c
		}
		return cmp.Compare(a.Host, b.Host)
	})
	if top >= 0 && len(out.TopHosts) > top {
		out.TopHosts = out.TopHosts[:top]
	}
	return out
}

func printSummary(w io.Writer, s statusSummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"session", s.SessionID},
		{"started", s.SessionStart.Format(time.RFC3339)},
		{"checkpoint", s.CheckpointAt.Format(time.RFC3339)},
		{"processed", fmt.Sprint(s.Processed)},
		{"saved pages", fmt.Sprint(s.SavedPages)},
		{"visited", fmt.Sprint(s.Visited)},
		{"failed", fmt.Sprint(s.Failed)},
		{"pending retry", fmt.Sprint(s.PendingRetry)},
		{"frontier", fmt.Sprintf("%d priority, %d normal", s.PriorityQueue, s.NormalQueue)},
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(tw, "%s:\t%s\n", r[0], r[1]); err != nil {
			return err
		}
	}
	if len(s.TopHosts) > 0 {
		if _, err := fmt.Fprintln(tw, "top hosts:"); err != nil {
			return err
		}
		for _, h := range s.TopHosts {
			if _, err := fmt.Fprintf(tw, "  %s\t%d\n", h.Host, h.Saved); err != nil {
				return err
			}
		}
	}
	return tw.Flush()
}
