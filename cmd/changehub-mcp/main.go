// Command changehub-mcp exposes a running changehub API as MCP tools over
// stdio.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// apiError mirrors the changehub error detail.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// runResponse mirrors POST /api/v1/harvest and GET /api/v1/harvest/:id.
type runResponse struct {
	Success bool      `json:"success"`
	Run     *runView  `json:"run"`
	Error   *apiError `json:"error"`
}

type runView struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Started  string `json:"started"`
	Finished string `json:"finished"`
	Results  struct {
		Roadmap             []map[string]string `json:"roadmap"`
		ChangeAnnouncements []map[string]string `json:"changeAnnouncements"`
	} `json:"results"`
	WhatsNew []map[string]string `json:"whatsNew"`
	Sinks    []struct {
		Source   string `json:"source"`
		List     string `json:"list"`
		Inserted int    `json:"inserted"`
		Skipped  int    `json:"skipped"`
		Failed   int    `json:"failed"`
	} `json:"sinks"`
	Files    []string  `json:"files"`
	Warnings []string  `json:"warnings"`
	Error    *apiError `json:"error"`
}

// whatsNewResponse mirrors GET /api/v1/whatsnew.
type whatsNewResponse struct {
	Success bool                `json:"success"`
	Count   int                 `json:"count"`
	Items   []map[string]string `json:"items"`
	Error   *apiError           `json:"error"`
}

func main() {
	apiURL := os.Getenv("CHANGEHUB_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("CHANGEHUB_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "CHANGEHUB_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"changehub",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	startHarvestTool := mcp.NewTool("start_harvest",
		mcp.WithDescription("Harvest the Microsoft Entra Change Management Hub (Roadmap and Change announcements), enriching every item with its detail pane. Runs take minutes; set wait to block until the run ends."),
		mcp.WithArray("tabs",
			mcp.Description("Tabs to harvest: 'roadmap', 'changeAnnouncements' (default: both)"),
		),
		mcp.WithBoolean("whats_new",
			mcp.Description("Also read the public Entra what's new page"),
		),
		mcp.WithBoolean("sink",
			mcp.Description("Insert the results into the configured SharePoint lists"),
		),
		mcp.WithBoolean("save",
			mcp.Description("Write JSON files and a summary on the server"),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Wait for the run to finish and return its results (default: true)"),
		),
	)
	s.AddTool(startHarvestTool, handleStartHarvest(apiURL, apiKey))

	getHarvestTool := mcp.NewTool("get_harvest",
		mcp.WithDescription("Get the status and results of a harvest run."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The run ID returned by start_harvest"),
		),
	)
	s.AddTool(getHarvestTool, handleGetHarvest(apiURL, apiKey))

	whatsNewTool := mcp.NewTool("whats_new",
		mcp.WithDescription("Read the public Microsoft Entra what's new release notes, one item per announcement."),
		mcp.WithString("month",
			mcp.Description("Only items of this month, e.g. 'March 2025'"),
		),
	)
	s.AddTool(whatsNewTool, handleWhatsNew(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST request to the changehub API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// apiGet sends a GET request to the changehub API and returns the response body.
func apiGet(ctx context.Context, client *http.Client, apiURL, apiKey, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// pollRunCompletion polls a run until its status is no longer "running" or
// the context is cancelled.
func pollRunCompletion(ctx context.Context, client *http.Client, apiURL, apiKey, id string, every time.Duration) (*runResponse, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			body, err := apiGet(ctx, client, apiURL, apiKey, "/api/v1/harvest/"+url.PathEscape(id))
			if err != nil {
				return nil, err
			}
			var resp runResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, fmt.Errorf("parse poll status: %w", err)
			}
			if resp.Run == nil {
				return &resp, nil
			}
			if resp.Run.Status != "running" {
				return &resp, nil
			}
		}
	}
}

func handleStartHarvest(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 60 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		payload := map[string]any{
			"whats_new": request.GetBool("whats_new", false),
			"sink":      request.GetBool("sink", false),
		}
		if tabs := request.GetStringSlice("tabs", nil); len(tabs) > 0 {
			payload["tabs"] = tabs
		}
		if _, ok := request.GetArguments()["save"]; ok {
			payload["save"] = request.GetBool("save", false)
		}

		body, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/harvest", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("harvest request failed: %v", err)), nil
		}
		var resp runResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse harvest response: %v", err)), nil
		}
		if resp.Run == nil {
			return mcp.NewToolResultError(errorText("harvest failed to start", resp.Error)), nil
		}

		if !request.GetBool("wait", true) {
			return mcp.NewToolResultText(fmt.Sprintf("Run %s started. Use get_harvest to follow it.", resp.Run.ID)), nil
		}

		final, err := pollRunCompletion(ctx, client, apiURL, apiKey, resp.Run.ID, 5*time.Second)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("polling run %s failed: %v", resp.Run.ID, err)), nil
		}
		return runResult(final), nil
	}
}

func handleGetHarvest(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 60 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError("id is required"), nil
		}

		body, err := apiGet(ctx, client, apiURL, apiKey, "/api/v1/harvest/"+url.PathEscape(id))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("status request failed: %v", err)), nil
		}
		var resp runResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse status response: %v", err)), nil
		}
		return runResult(&resp), nil
	}
}

func handleWhatsNew(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 120 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path := "/api/v1/whatsnew"
		if month := request.GetString("month", ""); month != "" {
			path += "?month=" + url.QueryEscape(month)
		}

		body, err := apiGet(ctx, client, apiURL, apiKey, path)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("what's new request failed: %v", err)), nil
		}
		var resp whatsNewResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse what's new response: %v", err)), nil
		}
		if !resp.Success {
			return mcp.NewToolResultError(errorText("what's new failed", resp.Error)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "%d items\n\n", resp.Count)
		month := ""
		for _, it := range resp.Items {
			if it["month"] != month {
				month = it["month"]
				fmt.Fprintf(&sb, "# %s\n\n", month)
			}
			fmt.Fprintf(&sb, "## %s\n", it["title"])
			if t := it["type"]; t != "" {
				fmt.Fprintf(&sb, "Type: %s\n", t)
			}
			if u := it["url"]; u != "" {
				fmt.Fprintf(&sb, "Link: %s\n", u)
			}
			fmt.Fprintf(&sb, "\n%s\n\n", it["description"])
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// runResult formats a run for the model.
func runResult(resp *runResponse) *mcp.CallToolResult {
	if resp.Run == nil {
		return mcp.NewToolResultError(errorText("run not found", resp.Error))
	}
	r := resp.Run

	var sb strings.Builder
	fmt.Fprintf(&sb, "Run %s: %s\n", r.ID, r.Status)
	if r.Error != nil {
		fmt.Fprintf(&sb, "Error: [%s] %s\n", r.Error.Code, r.Error.Message)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&sb, "Warning: %s\n", w)
	}
	for _, s := range r.Sinks {
		fmt.Fprintf(&sb, "List %s (%s): inserted %d, skipped %d, failed %d\n", s.List, s.Source, s.Inserted, s.Skipped, s.Failed)
	}
	for _, f := range r.Files {
		fmt.Fprintf(&sb, "File: %s\n", f)
	}

	writeRecords(&sb, "Roadmap", r.Results.Roadmap)
	writeRecords(&sb, "Change announcements", r.Results.ChangeAnnouncements)
	writeRecords(&sb, "What's new", r.WhatsNew)

	if r.Status == "failed" {
		return mcp.NewToolResultError(sb.String())
	}
	return mcp.NewToolResultText(sb.String())
}

func writeRecords(sb *strings.Builder, heading string, records []map[string]string) {
	if len(records) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n--- %s (%d) ---\n", heading, len(records))
	for i, rec := range records {
		fmt.Fprintf(sb, "[%d] %s\n", i+1, recordTitle(rec))
		if u := rec["url"]; u != "" {
			fmt.Fprintf(sb, "    %s\n", u)
		}
		if d := rec["description"]; d != "" {
			fmt.Fprintf(sb, "    %s\n", oneLine(d, 300))
		}
	}
}

// recordTitle picks the first non-empty title-like field.
func recordTitle(rec map[string]string) string {
	for _, k := range []string{"title", "Title", "name"} {
		if v := rec[k]; v != "" {
			return v
		}
	}
	return "(untitled)"
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit]) + "…"
	}
	return s
}

func errorText(fallback string, e *apiError) string {
	if e == nil {
		return fallback
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}
