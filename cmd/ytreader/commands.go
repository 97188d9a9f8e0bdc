package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/ytreader/internal/config"
)

type answerReply struct {
	Answer            string `json:"answer"`
	NoRelevantContext bool   `json:"no_relevant_context"`
	InteractionID     string `json:"interaction_id"`
	Model             string `json:"model"`
	Sources           []struct {
		VideoID string `json:"video_id"`
		Title   string `json:"title"`
		URL     string `json:"url"`
	} `json:"sources"`
}

func printAnswer(w io.Writer, a answerReply) {
	fmt.Fprintln(w, strings.TrimSpace(a.Answer))
	if a.NoRelevantContext {
		fmt.Fprintln(w)
		fmt.Fprintln(w, yellow.Sprint("(no playlist video matched the question)"))
	}
	if len(a.Sources) > 0 {
		fmt.Fprintf(w, "\n%s\n", bold.Sprint("Sources:"))
		for _, s := range a.Sources {
			fmt.Fprintf(w, "  - %s  %s\n", s.Title, faint.Sprint(s.URL))
		}
	}
	if a.InteractionID != "" {
		fmt.Fprintf(w, "\n%s\n", faint.Sprintf("interaction %s", a.InteractionID))
	}
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the playlist",
	Long: `Ask a question about the playlist. The server picks the most relevant
videos and answers from their titles, descriptions and transcripts.

Examples:
  ytreader ask "Which videos cover sourdough?"
  ytreader ask --max-videos 3 what tools does the creator use`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxVideos, _ := cmd.Flags().GetInt("max-videos")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"question": strings.Join(args, " ")}
		if maxVideos > 0 {
			req["max_videos"] = maxVideos
		}
		resp, err := client.post(cmd.Context(), "/api/ask", req)
		if err != nil {
			return err
		}

		var ans answerReply
		if err := decodeJSON(resp, &ans); err != nil {
			return err
		}
		printAnswer(cmd.OutOrStdout(), ans)
		return nil
	},
}

func init() {
	askCmd.Flags().Int("max-videos", 0, "maximum number of videos used as context (server default when 0)")
}

// --- summary ---

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize the playlist",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/summary")
		if err != nil {
			return err
		}

		var result struct {
			Playlist struct {
				Title string `json:"title"`
			} `json:"playlist"`
			Summary answerReply `json:"summary"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if result.Playlist.Title != "" {
			fmt.Fprintf(w, "%s\n\n", bold.Sprint(result.Playlist.Title))
		}
		printAnswer(w, result.Summary)
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank playlist videos by relevance without asking the model",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/search", map[string]any{
			"query":       strings.Join(args, " "),
			"max_results": limit,
		})
		if err != nil {
			return err
		}

		var result struct {
			Results []struct {
				VideoID string  `json:"video_id"`
				Title   string  `json:"title"`
				Excerpt string  `json:"excerpt"`
				Score   float64 `json:"score"`
				URL     string  `json:"url"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(result.Results) == 0 {
			fmt.Fprintln(w, "No matching videos.")
			return nil
		}
		for i, r := range result.Results {
			fmt.Fprintf(w, "%s [score: %.0f]  %s\n", bold.Sprintf("%d. %s", i+1, r.Title), r.Score, faint.Sprint(r.URL))
			if r.Excerpt != "" {
				fmt.Fprintf(w, "   %s\n", truncate(r.Excerpt, 200))
			}
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh the playlist catalog from YouTube",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/sync", nil)
		if err != nil {
			return err
		}

		var res struct {
			PlaylistTitle string `json:"playlist_title"`
			Source        string `json:"source"`
			Videos        int    `json:"videos"`
			NewVideos     int    `json:"new_videos"`
			Enqueued      int    `json:"transcript_jobs_enqueued"`
			DurationMs    int64  `json:"duration_ms"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printSuccess("Synced %q from %s in %s", res.PlaylistTitle, res.Source,
			(time.Duration(res.DurationMs) * time.Millisecond).String())
		fmt.Fprintf(cmd.OutOrStdout(), "videos: %d (new: %d), transcript jobs queued: %d\n",
			res.Videos, res.NewVideos, res.Enqueued)
		return nil
	},
}

// --- videos ---

var videosCmd = &cobra.Command{
	Use:   "videos",
	Short: "List playlist videos, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/playlist/videos?limit=%d", limit))
		if err != nil {
			return err
		}

		var result struct {
			Videos []struct {
				ID               string    `json:"id"`
				Title            string    `json:"title"`
				PublishedAt      time.Time `json:"published_at"`
				TranscriptStatus string    `json:"transcript_status"`
			} `json:"videos"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(result.Videos) == 0 {
			fmt.Fprintln(w, "No videos synced yet.")
			return nil
		}
		for _, v := range result.Videos {
			fmt.Fprintf(w, "%s  %s  %s  %s\n",
				cyan.Sprint(v.ID),
				v.PublishedAt.Format("2006-01-02"),
				truncate(v.Title, 70),
				faint.Sprint(v.TranscriptStatus),
			)
		}
		return nil
	},
}

func init() {
	videosCmd.Flags().Int("limit", 20, "maximum number of videos to list")
}

// --- transcript ---

var transcriptCmd = &cobra.Command{
	Use:   "transcript <video-id>",
	Short: "Print a video transcript, fetching it if needed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/videos/"+url.PathEscape(args[0])+"/transcript")
		if err != nil {
			return err
		}

		var result struct {
			Source     string `json:"source"`
			Transcript string `json:"transcript"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), result.Transcript)
		return nil
	},
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Browse question history and leave feedback",
}

var interactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/interactions?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}

		var result struct {
			Interactions []struct {
				ID            string    `json:"id"`
				CreatedAt     time.Time `json:"created_at"`
				Question      string    `json:"question"`
				Status        string    `json:"status"`
				FeedbackScore int       `json:"feedback_score"`
			} `json:"interactions"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(result.Interactions) == 0 {
			fmt.Fprintln(w, "No interactions found.")
			return nil
		}
		for _, ix := range result.Interactions {
			status := ix.Status
			if status != "completed" {
				status = red.Sprint(status)
			}
			fmt.Fprintf(w, "%s  %s  %-9s  %s\n",
				cyan.Sprint(ix.ID),
				ix.CreatedAt.Local().Format("2006-01-02 15:04"),
				status,
				truncate(ix.Question, 80),
			)
		}
		return nil
	},
}

var interactionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/interactions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var interaction any
		if err := decodeJSON(resp, &interaction); err != nil {
			return err
		}
		return writeIndented(cmd.OutOrStdout(), interaction)
	},
}

// parseRating maps a rating word or number to a feedback score.
func parseRating(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "good", "1", "+1":
		return 1, nil
	case "neutral", "0":
		return 0, nil
	case "down", "bad", "-1":
		return -1, nil
	}
	return 0, fmt.Errorf("rating must be up, neutral or down, got %q", s)
}

var interactionsFeedbackCmd = &cobra.Command{
	Use:   "feedback <id> <up|neutral|down>",
	Short: "Rate an answer",
	Long: `Rate an answer as up (1), neutral (0) or down (-1).

Examples:
  ytreader interactions feedback 3f2a... up
  ytreader interactions feedback 3f2a... down --notes "cited the wrong video"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := parseRating(args[1])
		if err != nil {
			return err
		}
		notes, _ := cmd.Flags().GetString("notes")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/interactions/"+url.PathEscape(args[0])+"/feedback", map[string]any{
			"score": score,
			"notes": notes,
		})
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Feedback recorded for %s", args[0])
		return nil
	},
}

func init() {
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsListCmd.Flags().Int("offset", 0, "number of interactions to skip")
	interactionsFeedbackCmd.Flags().String("notes", "", "free-form notes stored with the rating")
	interactionsCmd.AddCommand(interactionsListCmd)
	interactionsCmd.AddCommand(interactionsShowCmd)
	interactionsCmd.AddCommand(interactionsFeedbackCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadUnvalidated()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s %s\n\n", bold.Sprint("Config file:"), config.ConfigPath())
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %-26s %-36s %s\n", k.Key, k.Value, faint.Sprint(k.EnvVar))
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintln(w)
			printWarning("%v", err)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration key",
	Long: "Set a configuration key. Valid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Set %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(videosCmd)
	rootCmd.AddCommand(transcriptCmd)
	rootCmd.AddCommand(interactionsCmd)
	rootCmd.AddCommand(configCmd)
}
