// Package outcome owns the append-only log of generation attempts and
// their scores, backed by SQLite. Attempts are never updated or deleted;
// the learner reads the log as a stable snapshot. Recommendation rows are
// likewise append-only, superseded by newer rows of the same kind.
package outcome

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ablatext/ablatext/pkg/models"
)

// Schema for the outcome log. Applied by Open.
const Schema = `
CREATE TABLE IF NOT EXISTS attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	subject_ids TEXT NOT NULL,
	attempt_number INTEGER NOT NULL,
	strictness INTEGER NOT NULL,
	status TEXT NOT NULL,
	params TEXT NOT NULL,
	human_score REAL,
	detection_passed INTEGER,
	feedback TEXT,
	overall_score REAL,
	dimensions TEXT,
	subjective_passed INTEGER,
	tendencies TEXT,
	raw_output TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_kind ON attempts(kind, id);
CREATE TABLE IF NOT EXISTS recommendations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	params TEXT NOT NULL,
	sample_count INTEGER NOT NULL,
	confidence TEXT NOT NULL,
	correlations TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recommendations_kind ON recommendations(kind, id);
`

// Store persists attempt outcomes and recommendations
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// Appends serialize per content-kind partition. SQLite serializes
	// writes anyway, but the partition locks keep attempt ordering within
	// a kind stable when jobs run concurrently.
	mu         sync.Mutex
	partitions map[models.ContentKind]*sync.Mutex
}

// Open opens (creating if needed) the outcome database at path
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open outcome db: %w", err)
	}
	// modernc.org/sqlite is happiest with a single writer connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply outcome schema: %w", err)
	}

	return &Store{
		db:         db,
		logger:     logger.With("component", "outcome_store"),
		partitions: make(map[models.ContentKind]*sync.Mutex),
	}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) partitionLock(kind models.ContentKind) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.partitions[kind]
	if !ok {
		lock = &sync.Mutex{}
		s.partitions[kind] = lock
	}
	return lock
}

// Append writes one attempt outcome to the log. Scored outcomes must carry
// both results; structural failures must carry neither.
func (s *Store) Append(ctx context.Context, o models.AttemptOutcome) error {
	switch o.Attempt.Status {
	case models.StatusScored:
		if o.Detection == nil || o.Subjective == nil {
			return fmt.Errorf("scored outcome for job %s attempt %d is missing results",
				o.Attempt.JobID, o.Attempt.AttemptNumber)
		}
	case models.StatusStructuralFailure:
		if o.Detection != nil || o.Subjective != nil {
			return fmt.Errorf("structural failure for job %s attempt %d must not carry scores",
				o.Attempt.JobID, o.Attempt.AttemptNumber)
		}
	default:
		return fmt.Errorf("unknown attempt status %q", o.Attempt.Status)
	}

	subjectIDs, err := json.Marshal(o.Attempt.SubjectIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal subject ids: %w", err)
	}
	params, err := json.Marshal(o.Attempt.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	var humanScore, overallScore sql.NullFloat64
	var detPassed, subjPassed sql.NullBool
	var feedback, dimensions, tendencies sql.NullString
	if o.Detection != nil {
		humanScore = sql.NullFloat64{Float64: o.Detection.HumanScore, Valid: true}
		detPassed = sql.NullBool{Bool: o.Detection.Passed, Valid: true}
		fb, err := json.Marshal(o.Detection.FeedbackPhrases)
		if err != nil {
			return fmt.Errorf("failed to marshal feedback: %w", err)
		}
		feedback = sql.NullString{String: string(fb), Valid: true}
	}
	if o.Subjective != nil {
		overallScore = sql.NullFloat64{Float64: o.Subjective.OverallScore, Valid: true}
		subjPassed = sql.NullBool{Bool: o.Subjective.PassesGate, Valid: true}
		dims, err := json.Marshal(o.Subjective.Dimensions)
		if err != nil {
			return fmt.Errorf("failed to marshal dimensions: %w", err)
		}
		dimensions = sql.NullString{String: string(dims), Valid: true}
		tend, err := json.Marshal(o.Subjective.Tendencies)
		if err != nil {
			return fmt.Errorf("failed to marshal tendencies: %w", err)
		}
		tendencies = sql.NullString{String: string(tend), Valid: true}
	}

	createdAt := o.Attempt.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	lock := s.partitionLock(o.Attempt.Kind)
	lock.Lock()
	defer lock.Unlock()

	_, err = s.db.ExecContext(ctx, `INSERT INTO attempts
		(job_id, kind, subject_ids, attempt_number, strictness, status, params,
		 human_score, detection_passed, feedback,
		 overall_score, dimensions, subjective_passed, tendencies,
		 raw_output, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Attempt.JobID, string(o.Attempt.Kind), string(subjectIDs),
		o.Attempt.AttemptNumber, o.Attempt.Strictness, string(o.Attempt.Status), string(params),
		humanScore, detPassed, feedback,
		overallScore, dimensions, subjPassed, tendencies,
		o.Attempt.RawOutput, createdAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append attempt: %w", err)
	}

	s.logger.Debug("Appended attempt outcome",
		"job_id", o.Attempt.JobID,
		"kind", o.Attempt.Kind,
		"attempt", o.Attempt.AttemptNumber,
		"status", o.Attempt.Status)

	return nil
}

// ListByKind returns all outcomes for a content kind, oldest first. This
// is the learner's read path; it only sees fully committed rows.
func (s *Store) ListByKind(ctx context.Context, kind models.ContentKind) ([]models.AttemptOutcome, error) {
	return s.scan(ctx, `SELECT job_id, kind, subject_ids, attempt_number, strictness, status, params,
		human_score, detection_passed, feedback,
		overall_score, dimensions, subjective_passed, tendencies,
		raw_output, created_at
		FROM attempts WHERE kind = ? ORDER BY id ASC`, string(kind))
}

// Recent returns the latest outcomes for a content kind, newest first
func (s *Store) Recent(ctx context.Context, kind models.ContentKind, limit int) ([]models.AttemptOutcome, error) {
	return s.scan(ctx, `SELECT job_id, kind, subject_ids, attempt_number, strictness, status, params,
		human_score, detection_passed, feedback,
		overall_score, dimensions, subjective_passed, tendencies,
		raw_output, created_at
		FROM attempts WHERE kind = ? ORDER BY id DESC LIMIT ?`, string(kind), limit)
}

func (s *Store) scan(ctx context.Context, query string, args ...any) ([]models.AttemptOutcome, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Warn("Failed to close rows", "error", err)
		}
	}()

	var outcomes []models.AttemptOutcome
	for rows.Next() {
		var (
			o          models.AttemptOutcome
			kind       string
			subjectIDs string
			status     string
			params     string
			humanScore sql.NullFloat64
			detPassed  sql.NullBool
			feedback   sql.NullString
			overall    sql.NullFloat64
			dims       sql.NullString
			subjPassed sql.NullBool
			tendencies sql.NullString
			createdAt  int64
		)
		if err := rows.Scan(&o.Attempt.JobID, &kind, &subjectIDs,
			&o.Attempt.AttemptNumber, &o.Attempt.Strictness, &status, &params,
			&humanScore, &detPassed, &feedback,
			&overall, &dims, &subjPassed, &tendencies,
			&o.Attempt.RawOutput, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}

		o.Attempt.Kind = models.ContentKind(kind)
		o.Attempt.Status = models.AttemptStatus(status)
		o.Attempt.CreatedAt = time.UnixMilli(createdAt)
		if err := json.Unmarshal([]byte(subjectIDs), &o.Attempt.SubjectIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal subject ids: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &o.Attempt.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}

		if humanScore.Valid {
			det := &models.DetectionResult{
				HumanScore: humanScore.Float64,
				Passed:     detPassed.Bool,
			}
			if feedback.Valid {
				if err := json.Unmarshal([]byte(feedback.String), &det.FeedbackPhrases); err != nil {
					return nil, fmt.Errorf("failed to unmarshal feedback: %w", err)
				}
			}
			o.Detection = det
		}
		if overall.Valid {
			subj := &models.SubjectiveEvaluation{
				OverallScore: overall.Float64,
				PassesGate:   subjPassed.Bool,
			}
			if dims.Valid {
				if err := json.Unmarshal([]byte(dims.String), &subj.Dimensions); err != nil {
					return nil, fmt.Errorf("failed to unmarshal dimensions: %w", err)
				}
			}
			if tendencies.Valid {
				if err := json.Unmarshal([]byte(tendencies.String), &subj.Tendencies); err != nil {
					return nil, fmt.Errorf("failed to unmarshal tendencies: %w", err)
				}
			}
			o.Subjective = subj
		}

		outcomes = append(outcomes, o)
	}

	return outcomes, rows.Err()
}

// AppendRecommendation records a newly computed recommendation. Older rows
// for the same kind stay in place for diagnostics.
func (s *Store) AppendRecommendation(ctx context.Context, rec models.Recommendation) error {
	params, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendation params: %w", err)
	}
	correlations, err := json.Marshal(rec.Correlations)
	if err != nil {
		return fmt.Errorf("failed to marshal correlations: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO recommendations
		(kind, params, sample_count, confidence, correlations, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(rec.Kind), string(params), rec.SampleCount, string(rec.Confidence),
		string(correlations), createdAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to append recommendation: %w", err)
	}
	return nil
}

// LatestRecommendation returns the newest recommendation row for a kind,
// or nil when none has been recorded yet.
func (s *Store) LatestRecommendation(ctx context.Context, kind models.ContentKind) (*models.Recommendation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT params, sample_count, confidence, correlations, created_at
		FROM recommendations WHERE kind = ? ORDER BY id DESC LIMIT 1`, string(kind))

	var (
		params       string
		sampleCount  int
		confidence   string
		correlations sql.NullString
		createdAt    int64
	)
	if err := row.Scan(&params, &sampleCount, &confidence, &correlations, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query recommendation: %w", err)
	}

	rec := &models.Recommendation{
		Kind:        kind,
		SampleCount: sampleCount,
		Confidence:  models.Confidence(confidence),
		CreatedAt:   time.UnixMilli(createdAt),
	}
	if err := json.Unmarshal([]byte(params), &rec.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recommendation params: %w", err)
	}
	if correlations.Valid {
		if err := json.Unmarshal([]byte(correlations.String), &rec.Correlations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal correlations: %w", err)
		}
	}
	return rec, nil
}
