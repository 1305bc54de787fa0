// Package main provides the TomeHub command line client.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tomehub/tomehub/internal/config"
	"github.com/tomehub/tomehub/internal/observability"
	"github.com/tomehub/tomehub/pkg/tomehub"
)

const cliVersion = "0.1.0"

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	verbose    bool
	noColor    bool
	serverFlag string
	apiKeyFlag string

	// Shared state built by PersistentPreRunE
	cfg    *config.Config
	logger *observability.Logger
	client *tomehub.Client
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "tomehub",
	Short: "TomeHub CLI for searching and questioning your personal library",
	Long: `TomeHub CLI talks to a running TomeHub API server.

Use this tool to:
- Search your library across every retrieval strategy
- Ask questions and get answers grounded in your own books
- Review recent search activity and routing decisions
- Check server health

All commands support --json for automation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := "console"
		if outputJSON {
			logFormat = "json"
		}
		level := cfg.Observability.LogLevel
		if verbose {
			level = "debug"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      logFormat,
			ServiceName: "tomehub-cli",
		})

		client = tomehub.NewClient(tomehub.ClientConfig{
			BaseURL: serverBaseURL(),
			APIKey:  serverAPIKey(),
		})

		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s", "", "API server base URL (default: TOMEHUB_SERVER or configured address)")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "API key (default: TOMEHUB_API_KEY or configured key)")

	// Add subcommands
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newSearchCmd creates the search subcommand.
func newSearchCmd() *cobra.Command {
	var (
		user       string
		query      string
		book       string
		intent     string
		resource   string
		visibility string
		mix        string
		limit      int
		offset     int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the library",
		Long: `Search runs the full retrieval ladder over your library and prints the
fused results together with the routing decision the engine made.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			userID, err := resolveUser(user)
			if err != nil {
				return fmt.Errorf("invalid user: %w", err)
			}
			if book != "" {
				if _, err := uuid.Parse(book); err != nil {
					return fmt.Errorf("invalid book id %s: %w", book, err)
				}
			}

			logger.Debug().Str("user", user).Str("query", query).Msg("Searching library")

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			start := time.Now()
			resp, err := client.Search(ctx, tomehub.SearchRequest{
				UserID:          userID.String(),
				Query:           query,
				Limit:           limit,
				Offset:          offset,
				Intent:          intent,
				BookID:          book,
				ResourceType:    resource,
				VisibilityScope: visibility,
				ResultMixPolicy: mix,
			})
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			ui.Success("%d results in %s", resp.TotalCount, FormatDuration(time.Since(start)))
			if mode, ok := resp.Metadata["router_mode"].(string); ok {
				ui.KeyValue("route", mode)
			}
			if corrected, ok := resp.Metadata["corrected_query"].(string); ok {
				ui.KeyValue("corrected", corrected)
			}
			if cached, ok := resp.Metadata["cached"].(bool); ok && cached {
				ui.KeyValue("cached", true)
			}
			ui.Newline()

			if len(resp.Results) == 0 {
				ui.Info("No results. Try a broader query or --visibility all.")
				return nil
			}

			rows := make([][]string, 0, len(resp.Results))
			for i, hit := range resp.Results {
				page := "-"
				if hit.PageNumber > 0 {
					page = strconv.Itoa(hit.PageNumber)
				}
				rows = append(rows, []string{
					strconv.Itoa(offset + i + 1),
					truncate(hit.Title, 24),
					page,
					fmt.Sprintf("%.1f", hit.Score),
					hit.Bucket,
					truncate(hit.Text, 48),
				})
			}
			ui.Table([]string{"#", "Book", "Page", "Score", "Bucket", "Text"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "user ID or name (required)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "search query (required)")
	cmd.Flags().StringVar(&book, "book", "", "restrict to a single book ID")
	cmd.Flags().StringVar(&intent, "intent", "", "intent hint (DIRECT, CITATION_SEEKING, FOLLOW_UP, NARRATIVE, COMPARATIVE, SYNTHESIS)")
	cmd.Flags().StringVar(&resource, "resource", "", "resource type filter (BOOK, ARTICLE, WEBSITE, PERSONAL_NOTE, ALL_NOTES)")
	cmd.Flags().StringVar(&visibility, "visibility", "", "visibility scope (default, all)")
	cmd.Flags().StringVar(&mix, "mix", "", "result mix policy (lexical_then_semantic_tail)")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "pagination offset")

	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}

// newAskCmd creates the ask subcommand.
func newAskCmd() *cobra.Command {
	var (
		user         string
		question     string
		book         string
		scope        string
		compare      string
		targets      []string
		includeNotes bool
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Ask a question grounded in your library",
		Long: `Ask assembles evidence from your library, generates an answer with the
configured model ladder, and prints it with its sources. Generation can
take a while on cold models.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
			defer cancel()

			userID, err := resolveUser(user)
			if err != nil {
				return fmt.Errorf("invalid user: %w", err)
			}
			if book != "" {
				if _, err := uuid.Parse(book); err != nil {
					return fmt.Errorf("invalid book id %s: %w", book, err)
				}
			}
			for _, t := range targets {
				if _, err := uuid.Parse(t); err != nil {
					return fmt.Errorf("invalid target book %s: %w", t, err)
				}
			}

			logger.Debug().Str("user", user).Str("question", question).Msg("Asking question")

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			spinner := ui.Spinner("Thinking")
			resp, err := client.Ask(ctx, tomehub.AskRequest{
				UserID:        userID.String(),
				Question:      question,
				ContextItemID: book,
				ScopeMode:     scope,
				CompareMode:   compare,
				TargetBookIDs: targets,
				IncludeNotes:  includeNotes,
				Limit:         limit,
			})
			ui.StopSpinner(spinner)
			if err != nil {
				return fmt.Errorf("ask failed: %w", err)
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			ui.Section("Answer")
			fmt.Println(resp.AnswerText)

			if len(resp.Sources) > 0 {
				ui.Section("Sources")
				rows := make([][]string, 0, len(resp.Sources))
				for i, src := range resp.Sources {
					page := "-"
					if src.PageNumber > 0 {
						page = strconv.Itoa(src.PageNumber)
					}
					rows = append(rows, []string{
						strconv.Itoa(i + 1),
						truncate(src.Title, 24),
						page,
						fmt.Sprintf("%.1f", src.Score),
						truncate(src.Snippet, 48),
					})
				}
				ui.Table([]string{"#", "Book", "Page", "Score", "Snippet"}, rows)
			}

			ui.Newline()
			if status, ok := resp.Metadata["status"].(string); ok {
				ui.KeyValue("status", status)
			}
			if model, ok := resp.Metadata["model_name"].(string); ok {
				ui.KeyValue("model", model)
			}
			if ms, ok := resp.Metadata["answer_latency_ms"].(float64); ok {
				ui.KeyValue("latency", FormatDuration(time.Duration(ms)*time.Millisecond))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "user ID or name (required)")
	cmd.Flags().StringVarP(&question, "question", "q", "", "question to answer (required)")
	cmd.Flags().StringVar(&book, "book", "", "book ID currently being read, for scope anchoring")
	cmd.Flags().StringVar(&scope, "scope", "", "scope mode (AUTO, BOOK_FIRST, HIGHLIGHT_FIRST, GLOBAL)")
	cmd.Flags().StringVar(&compare, "compare", "", "compare mode (EXPLICIT_ONLY, AUTO)")
	cmd.Flags().StringSliceVar(&targets, "target", nil, "book IDs to compare across")
	cmd.Flags().BoolVar(&includeNotes, "include-notes", false, "admit personal notes into the evidence pool")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum evidence chunks to retrieve")

	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("question")

	return cmd
}

// newStatsCmd creates the stats subcommand.
func newStatsCmd() *cobra.Command {
	var (
		user  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show recent search activity",
		Long: `Stats lists the most recent searches the engine logged for a user,
including routing decisions, cache hits, and latency.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			userID, err := resolveUser(user)
			if err != nil {
				return fmt.Errorf("invalid user: %w", err)
			}

			resp, err := client.Stats(ctx, userID.String(), limit)
			if err != nil {
				return fmt.Errorf("stats failed: %w", err)
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			if len(resp.Searches) == 0 {
				ui.Info("No recent searches for user %s", user)
				return nil
			}

			rows := make([][]string, 0, len(resp.Searches))
			for _, entry := range resp.Searches {
				cacheMark := ""
				if entry.CacheHit {
					cacheMark = "hit"
				}
				rows = append(rows, []string{
					entry.CreatedAt.Local().Format("02 Jan 15:04"),
					truncate(entry.Query, 32),
					entry.Intent,
					entry.RouterMode,
					strconv.Itoa(entry.ResultCount),
					cacheMark,
					FormatDuration(time.Duration(entry.DurationMs) * time.Millisecond),
				})
			}
			ui.Table([]string{"When", "Query", "Intent", "Route", "Results", "Cache", "Took"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "user ID or name (required)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to show")

	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// newStatusCmd creates the status subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check server health and readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			health, err := client.Health(ctx)
			if err != nil {
				return fmt.Errorf("server unreachable: %w", err)
			}
			readyErr := client.Ready(ctx)

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"service": health.Service,
					"status":  health.Status,
					"ready":   readyErr == nil,
				})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			ui.Success("%s is %s", health.Service, health.Status)
			if readyErr != nil {
				ui.Warning("dependencies not ready: %v", readyErr)
			} else {
				ui.Info("dependencies ready")
			}
			return nil
		},
	}
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.Encode(map[string]string{"version": cliVersion})
				return
			}
			fmt.Println("tomehub v" + cliVersion)
		},
	}
}

// serverBaseURL picks the API address: the --server flag, the
// TOMEHUB_SERVER env var, then the configured listen address.
func serverBaseURL() string {
	if serverFlag != "" {
		return serverFlag
	}
	if env := os.Getenv("TOMEHUB_SERVER"); env != "" {
		return env
	}
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
}

// serverAPIKey picks the API key: the --api-key flag, the TOMEHUB_API_KEY
// env var, then the configured key.
func serverAPIKey() string {
	if apiKeyFlag != "" {
		return apiKeyFlag
	}
	if env := os.Getenv("TOMEHUB_API_KEY"); env != "" {
		return env
	}
	return cfg.Auth.APIKey
}

// resolveUser parses a string as a UUID, or derives a stable UUID from a
// plain name so local setups can use usernames directly.
func resolveUser(idOrName string) (uuid.UUID, error) {
	if idOrName == "" {
		return uuid.Nil, fmt.Errorf("empty user ID or name")
	}
	if id, err := uuid.Parse(idOrName); err == nil {
		return id, nil
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(idOrName)), nil
}
