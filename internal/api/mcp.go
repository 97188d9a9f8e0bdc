package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/ytreader/internal/catalog"
	"github.com/kalambet/ytreader/internal/qa"
	"github.com/kalambet/ytreader/internal/transcript"
)

// MCPDeps holds dependencies for the MCP server. Transcripts may be nil, in
// which case get_transcript only serves stored transcripts.
type MCPDeps struct {
	QA           QA
	Catalog      Catalog
	Transcripts  TranscriptFetcher
	Interactions InteractionStore
}

// NewMCPServer creates an MCP server with the playlist tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"ytreader",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("ytreader answers questions about one YouTube playlist using video titles, descriptions and transcripts."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("ask_playlist",
			mcp.WithDescription("Answer a question using the playlist's videos as context. Returns the answer and the source videos."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithNumber("max_videos", mcp.Description("Maximum number of videos used as context (default 5)")),
		),
		mcpAskPlaylist(deps),
	)

	s.AddTool(
		mcp.NewTool("search_videos",
			mcp.WithDescription("Rank playlist videos by keyword overlap with a query."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchVideos(deps),
	)

	s.AddTool(
		mcp.NewTool("get_transcript",
			mcp.WithDescription("Return the transcript of a playlist video, fetching it if it is not stored yet."),
			mcp.WithString("video_id", mcp.Description("YouTube video id"), mcp.Required()),
		),
		mcpGetTranscript(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"playlist://videos",
			"Playlist Videos",
			mcp.WithResourceDescription("Playlist metadata and its videos, newest first"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceVideos(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"playlist://recent-questions",
			"Recent Questions",
			mcp.WithResourceDescription("Last 10 questions asked about the playlist"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentQuestions(deps),
	)

	return s
}

func mcpAskPlaylist(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		maxVideos := req.GetInt("max_videos", 0)

		ans, err := deps.QA.Answer(ctx, qa.Question{Text: question, MaxContextChunks: maxVideos})
		if err != nil {
			var qe *qa.Error
			if errors.As(err, &qe) {
				return mcpError(fmt.Sprintf("%s: %s", qe.Kind, qe.Message)), nil
			}
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		b, err := json.Marshal(askResponse{Answer: ans, Sources: sourcesFor(deps.Catalog, ans.SourceVideoIDs)})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchVideos(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		hits := deps.QA.Search(query, limit)
		if len(hits) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(hits)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetTranscript(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("video_id")
		if err != nil {
			return mcpError("video_id is required"), nil
		}

		v, ok := deps.Catalog.Get(id)
		if !ok {
			return mcpError(fmt.Sprintf("video %s is not in the playlist", id)), nil
		}
		if v.HasTranscript() {
			return mcpText(*v.Transcript), nil
		}
		if deps.Transcripts == nil {
			return mcpError(fmt.Sprintf("no transcript stored for video %s", id)), nil
		}

		text, err := deps.Transcripts.Fetch(ctx, id)
		switch {
		case err == nil:
			return mcpText(text), nil
		case errors.Is(err, transcript.ErrRateLimited):
			return mcpError("transcript fetch rate limited, try again later"), nil
		case errors.Is(err, transcript.ErrUnavailable):
			return mcpError(fmt.Sprintf("transcript unavailable: %v", err)), nil
		default:
			return mcpError(fmt.Sprintf("transcript fetch failed: %v", err)), nil
		}
	}
}

func mcpResourceVideos(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		p, _ := deps.Catalog.Playlist()
		videos := deps.Catalog.Videos()
		catalog.SortNewestFirst(videos)

		b, err := json.Marshal(map[string]any{
			"playlist": p,
			"videos":   videos,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal videos: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceRecentQuestions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.Interactions.ListInteractions(10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type questionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Question  string `json:"question"`
			Status    string `json:"status"`
		}

		summaries := make([]questionSummary, len(interactions))
		for i, ix := range interactions {
			q := ix.Question
			if utf8.RuneCountInString(q) > 200 {
				runes := []rune(q)
				q = string(runes[:200]) + "..."
			}
			summaries[i] = questionSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				Question:  q,
				Status:    ix.Status,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
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
