package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ablatext/ablatext/internal/api"
	"github.com/ablatext/ablatext/internal/batch"
	"github.com/ablatext/ablatext/internal/catalog"
	"github.com/ablatext/ablatext/internal/config"
	"github.com/ablatext/ablatext/internal/detector"
	"github.com/ablatext/ablatext/internal/gate"
	"github.com/ablatext/ablatext/internal/learner"
	"github.com/ablatext/ablatext/internal/metrics"
	"github.com/ablatext/ablatext/internal/outcome"
	"github.com/ablatext/ablatext/internal/realism"
	"github.com/ablatext/ablatext/internal/session"
	"github.com/ablatext/ablatext/pkg/models"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	kindFlag   string
	subjects   string
	acceptBest bool
	limitFlag  int
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ablatext",
		Short: "Ablatext - quality-gated catalog content generator",
		Long: `Ablatext generates marketing and technical text for a laser-cleaning
materials catalog, gates every result behind AI-detection and realism
scoring, and learns which generation parameters pass the gates.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Generate gated content for catalog materials",
		Long: `Generate content for materials that do not yet have it:
1. Compose steering instructions from learned parameters and past feedback
2. Generate (batching short items to satisfy the detector minimum length)
3. Score with the AI detector and the realism evaluator
4. Retry with escalating strictness until both gates pass or attempts run out
5. Persist passing text to the catalog; log every attempt either way`,
		RunE: runGeneration,
	}
	runCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	runCmd.Flags().StringVar(&kindFlag, "kind", "long-form", "Content kind: short-form, long-form, structured-list")
	runCmd.Flags().StringVar(&subjects, "subjects", "", "Comma-separated material IDs (default: all missing this kind)")
	runCmd.Flags().BoolVar(&acceptBest, "accept-best", false, "Persist the best failing attempt when the gate is never passed")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	recommendCmd := &cobra.Command{
		Use:   "recommend",
		Short: "Show the learned parameter recommendation for a content kind",
		RunE:  showRecommendation,
	}
	recommendCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	recommendCmd.Flags().StringVar(&kindFlag, "kind", "long-form", "Content kind")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent attempt outcomes for a content kind",
		RunE:  showHistory,
	}
	historyCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	historyCmd.Flags().StringVar(&kindFlag, "kind", "long-form", "Content kind")
	historyCmd.Flags().IntVar(&limitFlag, "limit", 20, "Number of attempts to show")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGeneration(cmd *cobra.Command, args []string) error {
	kind := models.ContentKind(kindFlag)
	if !kind.Valid() {
		return fmt.Errorf("unknown content kind %q", kindFlag)
	}

	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	sessionMgr, err := session.NewManager("output", slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	logger, logFile, err := session.SetupLogger(sessionMgr, logLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		if logFile != nil {
			_ = logFile.Sync()
			_ = logFile.Close()
		}
	}()

	logger.Info("Ablatext starting",
		"version", Version,
		"config", configPath,
		"kind", kind,
		"session_dir", sessionMgr.Dir())

	if err := sessionMgr.BackupConfig(configPath); err != nil {
		return fmt.Errorf("failed to backup config: %w", err)
	}

	store, err := outcome.Open(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open outcome store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close outcome store", "error", err)
		}
	}()

	catalogStore, err := catalog.NewStore(cfg.Catalog.Dir, cfg.Templates.SubjectBrief, logger)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}

	materials, err := selectMaterials(catalogStore, kind, subjects)
	if err != nil {
		return err
	}
	if len(materials) == 0 {
		logger.Info("Nothing to do: all selected materials already have this content kind")
		return nil
	}

	apiClient := api.NewClient(cfg.Gate.TransientRetries, logger)
	generator := api.NewGenerator(apiClient, cfg.Models["generator"], secrets.GetAPIKey("generator"))
	det := detector.New(cfg.Detector, secrets.GetAPIKey("detector"),
		cfg.Gate.DetectionThreshold, cfg.Gate.TransientRetries, logger)
	eval := realism.New(cfg.Models["evaluator"], cfg.Templates.EvaluatorRubric,
		secrets.GetAPIKey("evaluator"), cfg.Gate.SubjectiveThreshold, apiClient, logger)
	learn := learner.New(store, cfg, logger)
	collector := metrics.NewCollector(logger)
	controller := gate.New(cfg, generator, det, eval, store, learn, collector, logger)

	jobs, err := planJobs(catalogStore, materials, kind, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("Planned generation jobs",
		"materials", len(materials),
		"jobs", len(jobs),
		"batched", len(jobs) != len(materials))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	passed, soft, failed := runJobs(ctx, controller, catalogStore, jobs, cfg.Run.Concurrency, kind, logger)

	logger.Info("Generation complete",
		"jobs", len(jobs),
		"passed", passed,
		"soft_accepted", soft,
		"failed", failed,
		"session_dir", sessionMgr.Dir())

	if ctx.Err() != nil {
		return fmt.Errorf("generation interrupted")
	}
	return nil
}

// selectMaterials resolves the --subjects flag (or defaults to every
// material missing this content kind)
func selectMaterials(store *catalog.Store, kind models.ContentKind, subjectsFlag string) ([]*catalog.Material, error) {
	if subjectsFlag == "" {
		return store.Missing(kind)
	}
	var materials []*catalog.Material
	for _, id := range strings.Split(subjectsFlag, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		m, err := store.Load(id)
		if err != nil {
			return nil, err
		}
		materials = append(materials, m)
	}
	return materials, nil
}

// planJobs groups materials into jobs. Kinds whose typical output falls
// below the detector minimum get batched; everything else runs one
// subject per job. Subjects spread across evenly sized chunks rather
// than filling batches greedily: a greedy split can strand a final
// single-subject job whose output the detector would reject as too
// short.
func planJobs(store *catalog.Store, materials []*catalog.Material, kind models.ContentKind, cfg *config.Config, logger *slog.Logger) ([]gate.Job, error) {
	subjects := make([]batch.Subject, 0, len(materials))
	for _, m := range materials {
		brief, err := store.Brief(m)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, batch.Subject{ID: m.ID, Brief: brief})
	}

	kp := cfg.KindParamsFor(kind)
	var jobs []gate.Job
	if len(subjects) > 1 && batch.Eligible(kp.TypicalLength, cfg.Detector.MinInputLength, batch.MinSubjects) {
		numJobs := (len(subjects) + cfg.Gate.MaxBatchSize - 1) / cfg.Gate.MaxBatchSize
		size := len(subjects) / numJobs
		extra := len(subjects) % numJobs
		start := 0
		for i := 0; i < numJobs; i++ {
			end := start + size
			if i < extra {
				end++
			}
			chunk := subjects[start:end]
			start = end
			if len(chunk) < batch.MinSubjects {
				// Only reachable at max_batch_size 2 with an odd subject
				// count; a singleton of this kind cannot clear the
				// detector minimum, so running it would waste a call
				logger.Warn("Skipping subject that cannot form a batch",
					"subject", chunk[0].ID,
					"kind", kind)
				continue
			}
			jobs = append(jobs, gate.Job{Subjects: chunk, Kind: kind})
		}
	} else {
		for _, s := range subjects {
			jobs = append(jobs, gate.Job{Subjects: []batch.Subject{s}, Kind: kind})
		}
	}
	return jobs, nil
}

// runJobs executes jobs on a bounded worker pool and persists results
func runJobs(
	ctx context.Context,
	controller *gate.Controller,
	catalogStore *catalog.Store,
	jobs []gate.Job,
	concurrency int,
	kind models.ContentKind,
	logger *slog.Logger,
) (passed, soft, failed int) {
	type jobResult struct {
		result *models.JobResult
		err    error
	}

	jobsChan := make(chan gate.Job, len(jobs))
	resultsChan := make(chan jobResult, len(jobs))

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for job := range jobsChan {
				select {
				case <-ctx.Done():
					return
				default:
				}
				result, err := controller.RunJob(ctx, job)
				resultsChan <- jobResult{result: result, err: err}
			}
		}(i)
	}

	for _, job := range jobs {
		jobsChan <- job
	}
	close(jobsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	bar := progressbar.Default(int64(len(jobs)), "Generating")
	for r := range resultsChan {
		_ = bar.Add(1)
		if r.err != nil {
			logger.Error("Job failed to run", "error", r.err)
			failed++
			continue
		}
		accept := r.result.Passed || (acceptBest && len(r.result.Texts) > 0)
		if !accept {
			logger.Warn("Job did not pass the gate",
				"job_id", r.result.JobID,
				"subjects", r.result.SubjectIDs,
				"attempts", len(r.result.Attempts),
				"feedback", r.result.Feedback)
			failed++
			continue
		}
		persistErr := false
		for id, text := range r.result.Texts {
			if err := catalogStore.SaveContent(id, kind, text); err != nil {
				logger.Error("Failed to persist content", "material", id, "error", err)
				persistErr = true
			}
		}
		switch {
		case persistErr:
			failed++
		case r.result.Passed:
			passed++
		default:
			soft++
			logger.Info("Accepted best failing attempt",
				"job_id", r.result.JobID,
				"subjects", r.result.SubjectIDs,
				"feedback", r.result.Feedback)
		}
	}
	return passed, soft, failed
}

func showRecommendation(cmd *cobra.Command, args []string) error {
	kind := models.ContentKind(kindFlag)
	if !kind.Valid() {
		return fmt.Errorf("unknown content kind %q", kindFlag)
	}

	cfg, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, err := outcome.Open(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open outcome store: %w", err)
	}
	defer func() { _ = store.Close() }()

	rec, err := learner.New(store, cfg, logger).Recommend(cmd.Context(), kind)
	if err != nil {
		return err
	}

	fmt.Printf("Recommendation for %s\n", kind)
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Samples:     %d\n", rec.SampleCount)
	fmt.Printf("Confidence:  %s\n", rec.Confidence)
	fmt.Println()
	fmt.Printf("%-20s %10s %12s\n", "KNOB", "VALUE", "CORRELATION")
	fmt.Println(strings.Repeat("-", 44))
	for _, knob := range models.Knobs() {
		fmt.Printf("%-20s %10.2f %12.3f\n", knob.Name, knob.Get(rec.Params), rec.Correlations[knob.Name])
	}
	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	kind := models.ContentKind(kindFlag)
	if !kind.Valid() {
		return fmt.Errorf("unknown content kind %q", kindFlag)
	}

	cfg, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, err := outcome.Open(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open outcome store: %w", err)
	}
	defer func() { _ = store.Close() }()

	outcomes, err := store.Recent(cmd.Context(), kind, limitFlag)
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		fmt.Printf("No attempts recorded for %s yet.\n", kind)
		return nil
	}

	fmt.Printf("%-20s %-9s %-20s %7s %8s %7s\n",
		"WHEN", "ATTEMPT", "STATUS", "HUMAN", "REALISM", "GATE")
	fmt.Println(strings.Repeat("-", 78))
	for _, o := range outcomes {
		human, realismScore, gateStr := "-", "-", "-"
		if o.Detection != nil && o.Subjective != nil {
			human = fmt.Sprintf("%.1f", o.Detection.HumanScore)
			realismScore = fmt.Sprintf("%.1f", o.Subjective.OverallScore)
			if o.Detection.Passed && o.Subjective.PassesGate {
				gateStr = "pass"
			} else {
				gateStr = "fail"
			}
		}
		fmt.Printf("%-20s %-9s %-20s %7s %8s %7s\n",
			o.Attempt.CreatedAt.Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%d/s%d", o.Attempt.AttemptNumber, o.Attempt.Strictness),
			o.Attempt.Status,
			human, realismScore, gateStr)
	}
	return nil
}
