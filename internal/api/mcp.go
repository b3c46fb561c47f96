package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/scrapejobs/internal/storage"
)

// NewMCPServer creates an MCP server exposing job submission and polling as tools.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"scrapejobs",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("scrapejobs runs asynchronous scrape jobs. Start one with start_scrape, then poll job_status and job_results until the status is completed or failed."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("start_scrape",
			mcp.WithDescription("Start a background scrape job and return its id. At least one of keyword, hashtag, username or tweet_url is required."),
			mcp.WithString("keyword", mcp.Description("Free-text search keyword")),
			mcp.WithString("hashtag", mcp.Description("Hashtag or comma-separated hashtags")),
			mcp.WithString("username", mcp.Description("Account whose timeline to scrape")),
			mcp.WithString("tweet_url", mcp.Description("Direct link to a single post")),
			mcp.WithNumber("num_tweets", mcp.Description("Number of records to collect")),
			mcp.WithString("search_mode", mcp.Description("Search mode"), mcp.Enum("top", "live", "people")),
		),
		mcpStartScrape(deps),
	)

	s.AddTool(
		mcp.NewTool("job_status",
			mcp.WithDescription("Return the status and progress of a scrape job."),
			mcp.WithString("job_id", mcp.Description("Job id returned by start_scrape"), mcp.Required()),
		),
		mcpJobStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("job_results",
			mcp.WithDescription("Return records collected by a scrape job, starting at index since."),
			mcp.WithString("job_id", mcp.Description("Job id returned by start_scrape"), mcp.Required()),
			mcp.WithNumber("since", mcp.Description("Index of the first record to return (default 0)")),
		),
		mcpJobResults(deps),
	)

	return s
}

func mcpStartScrape(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sr := ScrapeRequest{
			Keyword:    req.GetString("keyword", ""),
			Hashtag:    req.GetString("hashtag", ""),
			Username:   req.GetString("username", ""),
			TweetURL:   req.GetString("tweet_url", ""),
			SearchMode: req.GetString("search_mode", ""),
		}
		if _, ok := req.GetArguments()["num_tweets"]; ok {
			n := NumTweets(req.GetInt("num_tweets", 0))
			sr.NumTweets = &n
		}

		job, err := submit(ctx, deps, &sr)
		var verr *ValidationError
		if errors.As(err, &verr) {
			return mcpError(verr.Message), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to start scrape: %v", err)), nil
		}
		return mcpJSON(ScrapeResponse{Message: MsgScrapeStarted, JobID: job.ID})
	}
}

func mcpJobStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		job, err := deps.Store.Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(MsgJobNotFound), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get job: %v", err)), nil
		}
		return mcpJSON(NewStatusResponse(job))
	}
}

func mcpJobResults(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		since := req.GetInt("since", 0)
		if since < 0 {
			since = 0
		}
		resp, err := loadResults(ctx, deps.Store, id, since)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(MsgJobNotFound), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get results: %v", err)), nil
		}
		return mcpJSON(resp)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcpError(fmt.Sprintf("failed to encode response: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
