package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bounteer/jobsync/internal/ai"
	"github.com/bounteer/jobsync/internal/ai/gemini"
	"github.com/bounteer/jobsync/internal/autosearch"
	"github.com/bounteer/jobsync/internal/debounce"
	"github.com/bounteer/jobsync/internal/directus"
	"github.com/bounteer/jobsync/internal/filtering"
	"github.com/bounteer/jobsync/internal/logger"
	"github.com/bounteer/jobsync/internal/search"
	"github.com/bounteer/jobsync/internal/secrets"
	"github.com/bounteer/jobsync/internal/syncer"
	"github.com/bounteer/jobsync/internal/transport"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"

	// How often the watched job description is re-observed by the
	// change-debounce gate.
	observeEvery = time.Second
)

var resubmitPrompt = promptui.Select{
	Label: "Search input changed. Resubmit the search?",
	Items: []string{PromptYes, PromptNo},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a job description and keep its candidate search results fresh",
	Run: func(cmd *cobra.Command, _ []string) {
		watch(cmd)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolP("auto", "y", false, "resubmit searches automatically without confirmation")
	watchCmd.Flags().BoolP("dump-results", "o", false, "dump final candidate lists to a temporary file")
	watchCmd.Flags().StringP("exclude-file", "e", "", "special file with candidates to exclude. Default is unset.")
	watchCmd.Flags().Bool("exclude-seen", false, "record delivered candidates in the exclude file after every completed search")

	viper.BindPFlag("exclude-file", watchCmd.Flags().Lookup("exclude-file"))
}

// watch is the main command for the cli.
func watch(cmd *cobra.Command) {
	log, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		log.Fatal("getting a config", zap.Error(err))
	}

	log.Info("starting the jobsync", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	log.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if config == nil {
		log.Fatal("config is required")
	}

	if strings.TrimSpace(config.Resource) == "" {
		log.Fatal("job description id is required under the 'resource' key")
	}

	token, err := resolveToken(config)
	if err != nil {
		log.Fatal(
			"loading directus token",
			zap.Error(err),
			zap.String("hint", "set BOUNTEER_TOKEN, BOUNTEER_TOKEN_FILE or the 'token-file' key in the configuration file"),
		)
	}

	dc := directus.New(log, token)
	if config.BaseURL != "" {
		dc.APIURL = strings.TrimRight(config.BaseURL, "/")
	}
	if config.UserAgent != "" {
		dc.UserAgent = config.UserAgent
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jd, err := dc.GetJobDescription(ctx, config.Resource)
	if err != nil {
		log.Fatal("getting the job description", zap.Error(err))
	}

	log.Info("watching job description",
		zap.String("resource_id", jd.ID),
		zap.String("title", jd.Title),
	)

	sync := syncer.New(config.Resource, *jd, true, log)

	drafter, err := prepareDrafter(ctx, config.AI, log)
	if err != nil {
		log.Warn("query drafting disabled", zap.Error(err))
	}

	auto := config.Search != nil && config.Search.Auto
	if cmd.Flag("auto").Value.String() == "true" {
		auto = true
	}
	dumpResults := cmd.Flag("dump-results").Value.String() == "true"
	excludeSeen := cmd.Flag("exclude-seen").Value.String() == "true"

	loop := autosearch.New(searchAutoInterval(config), log)

	session := search.NewSession(dc, log, func(res search.Results) {
		handleResults(ctx, config, log, loop, res, dumpResults, excludeSeen)
	})
	tunePoller(session.Poller(), config)

	submit := func() {
		req := buildSearchRequest(ctx, sync.Value(), drafter, log)
		if _, err := session.Submit(ctx, req); err != nil {
			log.Warn("search submission failed",
				zap.String("resource_id", config.Resource),
				zap.Error(err),
			)
		}
	}

	if auto {
		loop.Enable(submit)
		log.Info("auto-resubmission enabled")
	}

	handle, err := openTransport(ctx, dc, config, sync, log)
	if err != nil {
		log.Fatal("opening the transport", zap.Error(err))
	}

	mode, _ := parseTransportMode(config)
	log.Info("transport opened", zap.String(logger.FieldTransport, string(mode)))

	gate := debounce.New(debounceWindow(config))
	gate.Observe(snapshot(sync.Value()))

	defer func() {
		handle.Close()
		session.Close()
		gate.Stop()
		loop.Disable()
	}()

	// Submit once for the initial state, then keep re-observing the synced
	// job description until the process is stopped.
	submit()

	ticker := time.NewTicker(observeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("exiting", zap.String("reason", "shutdown signal"))
			return
		case <-handle.Done():
			log.Info("exiting", zap.String("reason", "transport stopped"))
			return
		case <-ticker.C:
			if !gate.Observe(snapshot(sync.Value())) {
				continue
			}

			log.Info("job description changed", zap.String("resource_id", config.Resource))

			if auto {
				loop.Changed()
				continue
			}

			_, answer, err := resubmitPrompt.Run()
			if err != nil {
				log.Fatal("exiting", zap.Error(err))
			}
			if answer == PromptYes {
				submit()
			}
		}
	}
}

func handleResults(ctx context.Context, config *Config, log *zap.Logger, loop *autosearch.Loop, res search.Results, dump, excludeSeen bool) {
	candidates, err := filterResults(ctx, config, log, res.Candidates)
	if err != nil {
		log.Warn("filtering failed", zap.String("job_id", res.JobID), zap.Error(err))
		candidates = res.Candidates
	}

	if res.Partial {
		log.Info("interim search results",
			zap.String("job_id", res.JobID),
			zap.Int("count", candidates.Len()),
		)
		return
	}

	loop.Terminal()

	log.Info("search completed",
		zap.String("job_id", res.JobID),
		zap.Int("count", candidates.Len()),
	)

	if candidates.Len() == 0 {
		return
	}

	pretty, _ := json.MarshalIndent(candidates.Items, "", "  ")
	log.Info(string(pretty), zap.Int("candidates count", candidates.Len()))

	if dump {
		filename, err := candidates.DumpToTmpFile()
		if err != nil {
			log.Warn("dumping results to file", zap.Error(err))
			return
		}
		log.Info("dumped results to file", zap.String("filename", filename))
	}

	if excludeSeen {
		path := excludeFilePath(config)
		if path == "" {
			log.Warn("exclude-seen is set but no exclude file is configured")
			return
		}
		if err := appendToExcludeFile(path, candidates); err != nil {
			log.Warn("recording seen candidates", zap.String("filename", path), zap.Error(err))
			return
		}
		log.Info("recorded seen candidates",
			zap.String("filename", path),
			zap.Int("count", candidates.Len()),
		)
	}
}

// appendToExcludeFile merges the delivered candidates into the exclude file
// so later searches drop them. A missing file starts an empty list.
func appendToExcludeFile(path string, candidates *search.Candidates) error {
	excluded, err := search.GetExcludedCandidatesFromFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		excluded = &search.ExcludedCandidates{}
	}

	excluded.Append(candidates.ToExcluded())

	return excluded.ToFile(path)
}

func excludeFilePath(config *Config) string {
	path := strings.TrimSpace(viper.GetString("exclude-file"))
	if path == "" && config != nil {
		path = config.ExcludeFile
	}
	return path
}

func filterResults(ctx context.Context, config *Config, log *zap.Logger, candidates *search.Candidates) (*search.Candidates, error) {
	cfg := &filtering.Config{
		ExcludeFile: excludeFilePath(config),
	}
	if config != nil && config.Filters != nil {
		cfg.MinimumScore = config.Filters.MinimumScore
		cfg.Locations = config.Filters.ExcludeLocations
	}

	steps := []filtering.Filter{
		filtering.NewDedupe(),
		filtering.NewMinimumScore(),
		filtering.NewLocations(),
		filtering.NewExcludeFile(),
	}

	return filtering.Run(ctx, cfg, filtering.Deps{Logger: log}, steps, candidates)
}

func openTransport(ctx context.Context, dc *directus.Client, config *Config, sync *syncer.Synchronizer, log *zap.Logger) (*transport.Handle, error) {
	mode, err := parseTransportMode(config)
	if err != nil {
		return nil, err
	}

	opts := transport.Options{
		URL:        dc.WebsocketURL(),
		Token:      dc.Token(),
		Collection: directus.CollectionJobDescription,
		Query: map[string]any{
			"filter": map[string]any{
				"id": map[string]any{"_eq": config.Resource},
			},
		},
		Mode: mode,
		OnUpdate: func(record map[string]any) {
			sync.Apply(record)
		},
		OnError: func(err error) {
			log.Error("transport failed", zap.Error(err))
		},
		Fetch: func(ctx context.Context) ([]map[string]any, error) {
			return fetchResource(ctx, dc, config.Resource)
		},
		Logger: log,
	}

	if config.Transport != nil {
		opts.PullInterval = config.Transport.PullInterval
		opts.HeartbeatInterval = config.Transport.HeartbeatInterval
		opts.ReconnectDelay = config.Transport.ReconnectDelay
		opts.ReconnectCeiling = config.Transport.ReconnectCeiling
	}

	return transport.Open(ctx, opts)
}

// fetchResource backs pull mode: the same record the subscription would push.
func fetchResource(ctx context.Context, dc *directus.Client, id string) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("filter[id][_eq]", id)

	items, err := dc.GetItems(ctx, directus.CollectionJobDescription, q)
	if err != nil {
		return nil, err
	}

	records := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if record, ok := item.(map[string]any); ok {
			records = append(records, record)
		}
	}
	return records, nil
}

func parseTransportMode(config *Config) (transport.Mode, error) {
	raw := ""
	if config.Transport != nil {
		raw = config.Transport.Mode
	}

	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto":
		return transport.ModeAuto, nil
	case "push":
		return transport.ModePush, nil
	case "pull":
		return transport.ModePull, nil
	default:
		return transport.ModeAuto, fmt.Errorf("unsupported transport mode: %s", raw)
	}
}

// buildSearchRequest assembles the submission payload from the current synced
// job description. The free-text query comes from the AI drafter when one is
// configured and falls back to title plus skills.
func buildSearchRequest(ctx context.Context, jd directus.JobDescription, drafter ai.Drafter, log *zap.Logger) *directus.SearchRequest {
	req := &directus.SearchRequest{
		JobDescription: jd.ID,
		CompanyName:    jd.CompanyName,
		Title:          jd.Title,
		Seniority:      jd.Seniority,
		Location:       jd.Location,
		Skills:         jd.Skills,
		Languages:      jd.Languages,
	}

	if drafter != nil {
		draft, err := drafter.Draft(ctx, &jd)
		if err == nil {
			req.Query = draft.Query
			return req
		}
		log.Warn("query drafting failed, falling back to title and skills", zap.Error(err))
	}

	req.Query = strings.TrimSpace(strings.Join(append([]string{jd.Title}, jd.Skills...), " "))
	return req
}

// snapshot is what the debounce gate compares between observations. The
// drafter is deliberately not consulted here; only user-editable inputs count
// as changes.
func snapshot(jd directus.JobDescription) map[string]any {
	return map[string]any{
		"company_name": jd.CompanyName,
		"title":        jd.Title,
		"seniority":    jd.Seniority,
		"location":     jd.Location,
		"skills":       jd.Skills,
		"languages":    jd.Languages,
	}
}

func resolveToken(config *Config) (string, error) {
	if config == nil {
		return "", errors.New("config is required")
	}

	tokenFile := strings.TrimSpace(config.TokenFile)
	if tokenFile == "" {
		tokenFile = strings.TrimSpace(viper.GetString("token-file"))
	}

	return secrets.Load(secrets.Source{
		Name: "directus token",
		File: tokenFile,
		Env:  "BOUNTEER_TOKEN",
	})
}

func prepareDrafter(ctx context.Context, config *AIConfig, log *zap.Logger) (ai.Drafter, error) {
	if config == nil || !config.Enabled {
		return nil, nil
	}

	provider := strings.TrimSpace(strings.ToLower(config.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", config.Provider)
	}

	if config.Gemini == nil {
		return nil, errors.New("gemini configuration is required when ai drafting is enabled")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: config.Gemini.APIKeyFile,
		Env:  "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	genLogger := log.With(
		zap.String("provider", "gemini"),
		zap.String("model", config.Gemini.Model),
	)

	generator, err := gemini.NewGenerator(ctx, genLogger, apiKey, config.Gemini.Model, config.Gemini.MaxRetries)
	if err != nil {
		return nil, err
	}

	return gemini.NewDrafter(generator, genLogger, config.Gemini.MaxLogLength), nil
}

func tunePoller(poller *search.Poller, config *Config) {
	if config.Search == nil {
		return
	}
	if config.Search.PollInterval > 0 {
		poller.Interval = config.Search.PollInterval
	}
	if config.Search.PollBudget > 0 {
		poller.Budget = config.Search.PollBudget
	}
}

func debounceWindow(config *Config) time.Duration {
	if config.Search != nil && config.Search.DebounceWindow > 0 {
		return config.Search.DebounceWindow
	}
	return 0
}

func searchAutoInterval(config *Config) time.Duration {
	if config.Search != nil && config.Search.AutoInterval > 0 {
		return config.Search.AutoInterval
	}
	return 0
}

func fatalf(format string, args ...any) {
	log.Fatalf(format, args...)
}
