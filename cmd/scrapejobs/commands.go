package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/scrapejobs/internal/api"
	"github.com/kalambet/scrapejobs/internal/client"
	"github.com/kalambet/scrapejobs/internal/config"
	"github.com/kalambet/scrapejobs/internal/poller"
)

const requestTimeout = 30 * time.Second

// clientSettings resolves the server URL and poll interval from config and
// the --server flag.
func clientSettings(cmd *cobra.Command) (config.ClientConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.ClientConfig{}, err
	}
	if s, _ := cmd.Flags().GetString("server"); s != "" {
		cfg.Client.ServerURL = s
	}
	return cfg.Client, nil
}

func newAPIClient(cmd *cobra.Command) (*client.Client, config.ClientConfig, error) {
	cc, err := clientSettings(cmd)
	if err != nil {
		return nil, cc, err
	}
	return client.New(cc.ServerURL, requestTimeout), cc, nil
}

func addServerFlag(cmd *cobra.Command) {
	cmd.Flags().String("server", "", "server URL (default from client.server_url)")
}

// --- scrape ---

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Submit a scrape job and follow it until it finishes",
	Long: `Submit a scrape job and follow it until it finishes.

Examples:
  scrapejobs scrape --keyword golang --count 20
  scrapejobs scrape --hashtag "go,rust" --mode live
  scrapejobs scrape --username rob_pike
  scrapejobs scrape --url https://x.com/golang/status/1234567890`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := requestFromFlags(cmd)

		c, cc, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		loop := poller.New(c, newTerminalRenderer(os.Stdout), cc.PollInterval)
		_, err = loop.Run(ctx, req)
		return loopError(loop, err)
	},
}

func init() {
	addScrapeFlags(scrapeCmd)
	addServerFlag(scrapeCmd)
}

func addScrapeFlags(cmd *cobra.Command) {
	cmd.Flags().String("keyword", "", "free-text search keyword")
	cmd.Flags().String("hashtag", "", "hashtag or comma-separated hashtags")
	cmd.Flags().String("username", "", "account whose timeline to scrape")
	cmd.Flags().String("url", "", "direct link to a single post")
	cmd.Flags().Int("count", 0, "number of tweets to collect (default from server)")
	cmd.Flags().String("mode", "", "search mode: top, live or people")
}

func requestFromFlags(cmd *cobra.Command) api.ScrapeRequest {
	var req api.ScrapeRequest
	req.Keyword, _ = cmd.Flags().GetString("keyword")
	req.Hashtag, _ = cmd.Flags().GetString("hashtag")
	req.Username, _ = cmd.Flags().GetString("username")
	req.TweetURL, _ = cmd.Flags().GetString("url")
	req.SearchMode, _ = cmd.Flags().GetString("mode")
	if cmd.Flags().Changed("count") {
		n, _ := cmd.Flags().GetInt("count")
		count := api.NumTweets(n)
		req.NumTweets = &count
	}
	return req
}

// loopError converts a poll loop error into a command error. Errors the
// renderer has already printed are marked as reported.
func loopError(loop *poller.Loop, err error) error {
	if err == nil {
		return nil
	}
	var verr *api.ValidationError
	if errors.As(err, &verr) {
		return fmt.Errorf("invalid request: %s", verr.Message)
	}
	if errors.Is(err, poller.ErrBusy) || loop.State() != poller.Failed {
		return err
	}
	return reportedError{err: err}
}

// --- watch ---

var watchCmd = &cobra.Command{
	Use:   "watch <job_id>",
	Short: "Follow an existing job until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cc, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		loop := poller.New(c, newTerminalRenderer(os.Stdout), cc.PollInterval)
		_, err = loop.Watch(ctx, args[0])
		return loopError(loop, err)
	},
}

func init() {
	addServerFlag(watchCmd)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		st, err := c.Status(cmd.Context(), args[0])
		if errors.Is(err, client.ErrNotFound) {
			return fmt.Errorf("job %s not found", args[0])
		}
		if err != nil {
			return err
		}
		showStatus(st)
		return nil
	},
}

func init() {
	addServerFlag(statusCmd)
}

func showStatus(st api.StatusResponse) {
	printStatus("Job", "%s", st.JobID)
	printStatus("Status", "%s", st.Status)
	if st.Target > 0 {
		printStatus("Progress", "%d%% (%d/%d)", st.Progress, st.Current, st.Target)
	} else {
		printStatus("Progress", "%d collected", st.Current)
	}
	printStatus("Records", "%d", st.Count)
	if st.Filename != "" {
		printStatus("File", "%s", st.Filename)
	}
	if st.Error != "" {
		printStatus("Error", "%s", colorize(colorRed, st.Error))
	}
	printStatus("Created", "%s", st.CreatedAt.Local().Format(time.DateTime))
	printStatus("Updated", "%s", st.UpdatedAt.Local().Format(time.DateTime))
}

// --- results ---

var resultsCmd = &cobra.Command{
	Use:   "results <job_id>",
	Short: "Print the records collected by a job as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetInt("since")
		c, _, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		return printResults(cmd.Context(), c, args[0], since, os.Stdout)
	},
}

func init() {
	resultsCmd.Flags().Int("since", 0, "index of the first record to print")
	addServerFlag(resultsCmd)
}

type resultsFetcher interface {
	Results(ctx context.Context, id string, since int) (api.ResultsResponse, error)
}

func printResults(ctx context.Context, c resultsFetcher, id string, since int, w io.Writer) error {
	resp, err := c.Results(ctx, id, since)
	if errors.Is(err, client.ErrNotFound) {
		return fmt.Errorf("job %s not found", id)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp.Tweets); err != nil {
		return err
	}

	switch resp.Status {
	case "pending", "running":
		printWarning("job is still %s; %d records so far, continue with --since %d", resp.Status, resp.Count, resp.Next)
	default:
		printStatus("Records", "%d of %d", len(resp.Tweets), resp.Count)
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
