package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hive-corporation/riskwatch/internal/core/domain"
	"github.com/hive-corporation/riskwatch/internal/core/ports"
)

type PostgresIndicatorRepository struct {
	db *pgxpool.Pool
}

func NewPostgresIndicatorRepository(db *pgxpool.Pool) *PostgresIndicatorRepository {
	return &PostgresIndicatorRepository{db: db}
}

func (r *PostgresIndicatorRepository) SaveBatch(ctx context.Context, indicators []domain.Indicator) error {
	batch := &pgx.Batch{}

	query := `
		INSERT INTO indicators (id, type, value, confidence, severity, source, reliability, first_seen, last_seen, tags, context, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			last_seen  = GREATEST(indicators.last_seen, EXCLUDED.last_seen),
			confidence = GREATEST(indicators.confidence, EXCLUDED.confidence)
	`

	for _, ind := range indicators {
		contextJSON, err := json.Marshal(ind.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal indicator context: %w", err)
		}
		batch.Queue(query,
			ind.ID,
			ind.Type,
			ind.Value,
			ind.Confidence,
			ind.Severity,
			ind.Source,
			ind.Reliability,
			ind.FirstSeen,
			ind.LastSeen,
			ind.Tags,
			contextJSON,
			ind.Description,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for range indicators {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to execute indicator batch: %w", err)
		}
	}
	return nil
}

const indicatorColumns = `id, type, value, confidence, severity, source, reliability, first_seen, last_seen, tags, context, description`

func scanIndicator(row pgx.Row) (*domain.Indicator, error) {
	var ind domain.Indicator
	var contextJSON []byte

	err := row.Scan(
		&ind.ID,
		&ind.Type,
		&ind.Value,
		&ind.Confidence,
		&ind.Severity,
		&ind.Source,
		&ind.Reliability,
		&ind.FirstSeen,
		&ind.LastSeen,
		&ind.Tags,
		&contextJSON,
		&ind.Description,
	)
	if err != nil {
		return nil, err
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &ind.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal indicator context: %w", err)
		}
	}
	return &ind, nil
}

func (r *PostgresIndicatorRepository) FindByID(ctx context.Context, id string) (*domain.Indicator, error) {
	query := `SELECT ` + indicatorColumns + ` FROM indicators WHERE id = $1`

	ind, err := scanIndicator(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query indicator: %w", err)
	}
	return ind, nil
}

func (r *PostgresIndicatorRepository) FindSince(ctx context.Context, since time.Time, limit int) ([]domain.Indicator, error) {
	query := `
		SELECT ` + indicatorColumns + `
		FROM indicators
		WHERE last_seen >= $1
		ORDER BY last_seen DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query indicators: %w", err)
	}
	defer rows.Close()

	var indicators []domain.Indicator
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan indicator: %w", err)
		}
		indicators = append(indicators, *ind)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return indicators, nil
}

type PostgresRiskRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRiskRepository(db *pgxpool.Pool) *PostgresRiskRepository {
	return &PostgresRiskRepository{db: db}
}

func (r *PostgresRiskRepository) Save(ctx context.Context, risk *domain.DynamicRisk) error {
	sourcesJSON, err := json.Marshal(risk.IntelSources)
	if err != nil {
		return fmt.Errorf("failed to marshal intel sources: %w", err)
	}

	query := `
		INSERT INTO risks (id, title, description, dynamic_state, confidence_score, probability, impact, priority, threat_intel_sources, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			title                = EXCLUDED.title,
			description          = EXCLUDED.description,
			dynamic_state        = EXCLUDED.dynamic_state,
			confidence_score     = EXCLUDED.confidence_score,
			probability          = EXCLUDED.probability,
			impact               = EXCLUDED.impact,
			priority             = EXCLUDED.priority,
			threat_intel_sources = EXCLUDED.threat_intel_sources,
			tags                 = EXCLUDED.tags,
			updated_at           = EXCLUDED.updated_at
	`

	_, err = r.db.Exec(ctx, query,
		risk.ID,
		risk.Title,
		risk.Description,
		risk.State,
		risk.ConfidenceScore,
		risk.Probability,
		risk.Impact,
		risk.Priority,
		sourcesJSON,
		risk.Tags,
		risk.CreatedAt,
		risk.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save risk: %w", err)
	}
	return nil
}

const riskColumns = `id, title, description, dynamic_state, confidence_score, probability, impact, priority, threat_intel_sources, tags, created_at, updated_at`

func scanRisk(row pgx.Row) (*domain.DynamicRisk, error) {
	var risk domain.DynamicRisk
	var sourcesJSON []byte

	err := row.Scan(
		&risk.ID,
		&risk.Title,
		&risk.Description,
		&risk.State,
		&risk.ConfidenceScore,
		&risk.Probability,
		&risk.Impact,
		&risk.Priority,
		&sourcesJSON,
		&risk.Tags,
		&risk.CreatedAt,
		&risk.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(sourcesJSON) > 0 {
		if err := json.Unmarshal(sourcesJSON, &risk.IntelSources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal intel sources: %w", err)
		}
	}
	return &risk, nil
}

func (r *PostgresRiskRepository) FindByID(ctx context.Context, id string) (*domain.DynamicRisk, error) {
	query := `SELECT ` + riskColumns + ` FROM risks WHERE id = $1`

	risk, err := scanRisk(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query risk: %w", err)
	}
	return risk, nil
}

func (r *PostgresRiskRepository) FindByIntelSource(ctx context.Context, source, value string) (*domain.DynamicRisk, error) {
	// jsonb containment over the sightings array
	query := `
		SELECT ` + riskColumns + `
		FROM risks
		WHERE threat_intel_sources @> jsonb_build_array(jsonb_build_object('source', $1::text, 'indicator_value', $2::text))
		LIMIT 1
	`

	risk, err := scanRisk(r.db.QueryRow(ctx, query, source, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query risk by intel source: %w", err)
	}
	return risk, nil
}

func (r *PostgresRiskRepository) AppendTransition(ctx context.Context, tr domain.StateTransition) error {
	query := `
		INSERT INTO risk_transitions (id, risk_id, from_state, to_state, reason, automated, actor, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Exec(ctx, query,
		tr.ID, tr.RiskID, tr.From, tr.To, tr.Reason, tr.Automated, tr.Actor, tr.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

func (r *PostgresRiskRepository) Transitions(ctx context.Context, riskID string) ([]domain.StateTransition, error) {
	query := `
		SELECT id, risk_id, from_state, to_state, reason, automated, actor, ts
		FROM risk_transitions
		WHERE risk_id = $1
		ORDER BY ts ASC
	`

	rows, err := r.db.Query(ctx, query, riskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []domain.StateTransition
	for rows.Next() {
		var tr domain.StateTransition
		err := rows.Scan(&tr.ID, &tr.RiskID, &tr.From, &tr.To, &tr.Reason, &tr.Automated, &tr.Actor, &tr.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		transitions = append(transitions, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return transitions, nil
}

type PostgresClusterRepository struct {
	db *pgxpool.Pool
}

func NewPostgresClusterRepository(db *pgxpool.Pool) *PostgresClusterRepository {
	return &PostgresClusterRepository{db: db}
}

func (r *PostgresClusterRepository) SaveRun(ctx context.Context, runID string, clusters []domain.CorrelationCluster) error {
	batch := &pgx.Batch{}

	query := `
		INSERT INTO correlation_clusters (id, run_id, cluster_type, member_ids, strength, confidence, risk_level, attribution, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	for _, c := range clusters {
		var attrJSON []byte
		if c.Attribution != nil {
			var err error
			attrJSON, err = json.Marshal(c.Attribution)
			if err != nil {
				return fmt.Errorf("failed to marshal attribution: %w", err)
			}
		}
		batch.Queue(query,
			c.ID, runID, c.Type, c.MemberIDs, c.Strength, c.Confidence, c.RiskLevel, attrJSON, c.CreatedAt)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for range clusters {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to execute cluster batch: %w", err)
		}
	}
	return nil
}

func (r *PostgresClusterRepository) FindByRun(ctx context.Context, runID string) ([]domain.CorrelationCluster, error) {
	query := `
		SELECT id, run_id, cluster_type, member_ids, strength, confidence, risk_level, attribution, created_at
		FROM correlation_clusters
		WHERE run_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []domain.CorrelationCluster
	for rows.Next() {
		var c domain.CorrelationCluster
		var attrJSON []byte
		err := rows.Scan(&c.ID, &c.RunID, &c.Type, &c.MemberIDs, &c.Strength, &c.Confidence, &c.RiskLevel, &attrJSON, &c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		if len(attrJSON) > 0 {
			c.Attribution = &domain.ThreatAttribution{}
			if err := json.Unmarshal(attrJSON, c.Attribution); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attribution: %w", err)
			}
		}
		clusters = append(clusters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return clusters, nil
}

type PostgresScoreRepository struct {
	db *pgxpool.Pool
}

func NewPostgresScoreRepository(db *pgxpool.Pool) *PostgresScoreRepository {
	return &PostgresScoreRepository{db: db}
}

func (r *PostgresScoreRepository) Append(ctx context.Context, score domain.ContextualRiskScore) error {
	multipliersJSON, err := json.Marshal(score.Multipliers)
	if err != nil {
		return fmt.Errorf("failed to marshal multipliers: %w", err)
	}

	query := `
		INSERT INTO risk_scores (risk_id, base_score, multipliers, final_score, confidence_level, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.db.Exec(ctx, query,
		score.RiskID, score.BaseScore, multipliersJSON, score.FinalScore, score.Confidence, score.ComputedAt)
	if err != nil {
		return fmt.Errorf("failed to append score: %w", err)
	}
	return nil
}

func (r *PostgresScoreRepository) History(ctx context.Context, riskID string, limit int) ([]domain.ContextualRiskScore, error) {
	// newest N rows, returned oldest-first for trend fitting
	query := `
		SELECT risk_id, base_score, multipliers, final_score, confidence_level, computed_at
		FROM (
			SELECT risk_id, base_score, multipliers, final_score, confidence_level, computed_at
			FROM risk_scores
			WHERE risk_id = $1
			ORDER BY computed_at DESC
			LIMIT $2
		) recent
		ORDER BY computed_at ASC
	`

	rows, err := r.db.Query(ctx, query, riskID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query score history: %w", err)
	}
	defer rows.Close()

	var history []domain.ContextualRiskScore
	for rows.Next() {
		var score domain.ContextualRiskScore
		var multipliersJSON []byte
		err := rows.Scan(&score.RiskID, &score.BaseScore, &multipliersJSON, &score.FinalScore, &score.Confidence, &score.ComputedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		if len(multipliersJSON) > 0 {
			if err := json.Unmarshal(multipliersJSON, &score.Multipliers); err != nil {
				return nil, fmt.Errorf("failed to unmarshal multipliers: %w", err)
			}
		}
		history = append(history, score)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return history, nil
}

type PostgresProcessingLog struct {
	db *pgxpool.Pool
}

func NewPostgresProcessingLog(db *pgxpool.Pool) *PostgresProcessingLog {
	return &PostgresProcessingLog{db: db}
}

func (r *PostgresProcessingLog) Append(ctx context.Context, entry ports.ProcessingDecision) error {
	query := `
		INSERT INTO processing_log (connector, indicator_id, decision, rule_id, risk_id, detail, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Exec(ctx, query,
		entry.Connector, entry.IndicatorID, entry.Decision, entry.RuleID, entry.RiskID, entry.Detail, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append processing log entry: %w", err)
	}
	return nil
}
