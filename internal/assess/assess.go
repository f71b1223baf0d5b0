// Package assess orchestrates the full fraud assessment pipeline:
// persist the transaction, recompute the user's profile, evaluate the
// rule set, score the ensemble, generate the explanation, and record
// the prediction for later feedback.
package assess

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/tracker"
)

// EngineVersion identifies the scoring pipeline in assessment metadata.
const EngineVersion = "kestrel/1.0"

// Service is the assessment pipeline facade.
type Service struct {
	repo      domain.Repository
	profiles  *profile.Service
	engine    *rules.Engine
	extractor *scoring.Extractor
	model     *scoring.Model
	explainer *explain.Generator
	tracker   *tracker.Tracker
	bus       domain.EventBus
	tracer    trace.Tracer
}

// NewService wires the assessment pipeline. The bus is optional; without
// one, events are simply not published.
func NewService(
	repo domain.Repository,
	profiles *profile.Service,
	engine *rules.Engine,
	extractor *scoring.Extractor,
	model *scoring.Model,
	tr *tracker.Tracker,
	bus domain.EventBus,
) *Service {
	return &Service{
		repo:      repo,
		profiles:  profiles,
		engine:    engine,
		extractor: extractor,
		model:     model,
		explainer: explain.NewGenerator(scoring.FeatureNames, scoring.NewModel().Weights()),
		tracker:   tr,
		bus:       bus,
		tracer:    otel.Tracer("kestrel/assess"),
	}
}

// Assess runs the full pipeline for one transaction and returns the
// persisted assessment.
func (s *Service) Assess(ctx context.Context, tx *domain.Transaction) (*domain.Assessment, error) {
	ctx, span := s.tracer.Start(ctx, "assess.Assess")
	defer span.End()

	started := time.Now()

	if err := validate(tx); err != nil {
		return nil, err
	}

	// Rules and features evaluate against the profile as it stood
	// before this transaction; a first transaction sees the zero
	// profile.
	userProfile, err := s.profiles.Get(ctx, tx.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	freq, err := s.profiles.Frequency(ctx, tx.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant frequency: %w", err)
	}

	// Persist before rule evaluation so velocity windows count the
	// transaction under assessment.
	if err := s.repo.SaveTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}

	rulesStarted := time.Now()
	violations, err := s.engine.EvaluateAll(ctx, tx, userProfile, freq)
	if err != nil {
		return nil, fmt.Errorf("rule evaluation failed: %w", err)
	}
	rulesMs := time.Since(rulesStarted).Milliseconds()

	features := s.extractor.Extract(ctx, tx, userProfile)
	pModel, err := s.model.Predict(features)
	if err != nil {
		return nil, fmt.Errorf("model prediction failed: %w", err)
	}

	pRule := scoring.RuleProbability(violations)
	final := scoring.Combine(pModel, pRule)
	action := domain.ActionForProbability(final)

	explanation := s.explainer.Generate(features, pModel, pRule, final, action, violations)

	ruleIDs := make([]string, 0, len(violations))
	for _, v := range violations {
		ruleIDs = append(ruleIDs, v.RuleID)
	}
	s.tracker.RecordPrediction(tx.ID, final, ruleIDs)

	assessment := &domain.Assessment{
		ID:               uuid.NewString(),
		TxID:             tx.ID,
		UserID:           tx.UserID,
		ModelProbability: pModel,
		RuleProbability:  pRule,
		FinalProbability: final,
		Action:           action,
		Violations:       violations,
		Explanation:      explanation,
		Timestamp:        time.Now().UTC(),
		Metadata: domain.AssessmentMetadata{
			TraceID:        span.SpanContext().TraceID().String(),
			RulesEvaluated: s.engine.RulesCount(),
			RulesMs:        rulesMs,
			TotalMs:        time.Since(started).Milliseconds(),
			EngineVersion:  EngineVersion,
		},
	}

	if err := s.repo.SaveAssessment(ctx, assessment); err != nil {
		return nil, fmt.Errorf("failed to save assessment: %w", err)
	}

	// Replace the stored profile with one recomputed from the full
	// history, now including this transaction.
	if _, _, err := s.profiles.Recompute(ctx, tx.UserID); err != nil {
		return nil, fmt.Errorf("failed to recompute profile: %w", err)
	}

	s.publishResults(ctx, assessment)

	slog.Info("transaction assessed",
		"tx_id", tx.ID,
		"user_id", tx.UserID,
		"action", assessment.Action,
		"probability", assessment.FinalProbability,
		"violations", len(violations),
		"total_ms", assessment.Metadata.TotalMs,
	)

	return assessment, nil
}

// Evaluate runs only the rule set against an explicit context snapshot.
func (s *Service) Evaluate(ctx context.Context, tx *domain.Transaction, p *domain.UserRiskProfile, freq domain.MerchantFrequency) ([]domain.FraudViolation, error) {
	return s.engine.EvaluateAll(ctx, tx, p, freq)
}

// Score computes the ensemble probability and action for a snapshot
// without persisting anything.
func (s *Service) Score(ctx context.Context, tx *domain.Transaction, p *domain.UserRiskProfile, freq domain.MerchantFrequency) (float64, domain.RiskAction, error) {
	violations, err := s.engine.EvaluateAll(ctx, tx, p, freq)
	if err != nil {
		return 0, "", err
	}

	pModel, err := s.model.Predict(s.extractor.Extract(ctx, tx, p))
	if err != nil {
		return 0, "", err
	}

	final := scoring.Combine(pModel, scoring.RuleProbability(violations))
	return final, domain.ActionForProbability(final), nil
}

// Explain produces a full explanation for a snapshot without persisting
// anything.
func (s *Service) Explain(ctx context.Context, tx *domain.Transaction, p *domain.UserRiskProfile, freq domain.MerchantFrequency) (*domain.FraudExplanation, error) {
	violations, err := s.engine.EvaluateAll(ctx, tx, p, freq)
	if err != nil {
		return nil, err
	}

	features := s.extractor.Extract(ctx, tx, p)
	pModel, err := s.model.Predict(features)
	if err != nil {
		return nil, err
	}

	pRule := scoring.RuleProbability(violations)
	final := scoring.Combine(pModel, pRule)

	return s.explainer.Generate(features, pModel, pRule, final, domain.ActionForProbability(final), violations), nil
}

// Feedback records a delayed fraud label for a previously assessed
// transaction. Unknown or already-labeled transactions are no-ops.
func (s *Service) Feedback(ctx context.Context, txID string, actualFraud bool) {
	s.tracker.RecordFeedback(txID, actualFraud)

	if s.bus != nil {
		payload, err := json.Marshal(map[string]any{
			"txId":        txID,
			"actualFraud": actualFraud,
		})
		if err == nil {
			if err := s.bus.Publish(ctx, domain.TopicFeedbackReceived, payload); err != nil {
				slog.Warn("failed to publish feedback event", "tx_id", txID, "error", err)
			}
		}
	}
}

// Metrics returns the current model performance snapshot.
func (s *Service) Metrics() *domain.ModelMetrics {
	return s.tracker.Metrics()
}

// publishResults emits the completed assessment and, for BLOCK/REVIEW
// outcomes, an alert. Publish failures are logged, never fatal.
func (s *Service) publishResults(ctx context.Context, a *domain.Assessment) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(a)
	if err != nil {
		slog.Warn("failed to marshal assessment event", "assessment_id", a.ID, "error", err)
		return
	}

	if err := s.bus.Publish(ctx, domain.TopicAssessmentCompleted, payload); err != nil {
		slog.Warn("failed to publish assessment event", "assessment_id", a.ID, "error", err)
	}

	if a.IsAlert() {
		if err := s.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Warn("failed to publish alert", "assessment_id", a.ID, "error", err)
		}
	}
}

func validate(tx *domain.Transaction) error {
	switch {
	case tx == nil:
		return fmt.Errorf("transaction is required")
	case tx.ID == "":
		return fmt.Errorf("transaction id is required")
	case tx.UserID == "":
		return fmt.Errorf("user id is required")
	case tx.Amount.IsNegative():
		return fmt.Errorf("amount must not be negative")
	case tx.CreatedAt.IsZero():
		return fmt.Errorf("transaction timestamp is required")
	}
	return nil
}
