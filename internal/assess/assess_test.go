package assess

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/tracker"
)

// memRepo is an in-memory repository for pipeline tests.
type memRepo struct {
	mu          sync.Mutex
	txs         []*domain.Transaction
	assessments map[string]*domain.Assessment
	profiles    map[string]*domain.UserRiskProfile
}

func newMemRepo() *memRepo {
	return &memRepo{
		assessments: make(map[string]*domain.Assessment),
		profiles:    make(map[string]*domain.UserRiskProfile),
	}
}

func (m *memRepo) SaveTransaction(_ context.Context, tx *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, tx)
	return nil
}

func (m *memRepo) GetTransaction(_ context.Context, txID string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.ID == txID {
			return tx, nil
		}
	}
	return nil, nil
}

func (m *memRepo) GetTransactionsByUser(_ context.Context, userID string) ([]*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Transaction
	for _, tx := range m.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *memRepo) CountTransactionsSince(_ context.Context, userID string, since, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, tx := range m.txs {
		if tx.UserID == userID && tx.CreatedAt.After(since) && !tx.CreatedAt.After(before) {
			count++
		}
	}
	return count, nil
}

func (m *memRepo) AmountStatsSince(_ context.Context, userID string, since time.Time, excludeTxID string) (float64, float64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	var count int64
	for _, tx := range m.txs {
		if tx.UserID == userID && tx.ID != excludeTxID && tx.CreatedAt.After(since) {
			sum += tx.Amount.InexactFloat64()
			count++
		}
	}
	if count == 0 {
		return 0, 0, 0, nil
	}
	return sum / float64(count), 0, count, nil
}

func (m *memRepo) HasTransactedInCountry(_ context.Context, userID, country, excludeTxID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.UserID == userID && tx.ID != excludeTxID && tx.Location != nil && tx.Location.Country == country {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) CountDistinctCountries(_ context.Context, userID, excludeTxID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	for _, tx := range m.txs {
		if tx.UserID == userID && tx.ID != excludeTxID && tx.Location != nil && tx.Location.Country != "" {
			seen[tx.Location.Country] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

func (m *memRepo) LastTransactionWithLocation(_ context.Context, userID string, before time.Time) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Transaction
	for _, tx := range m.txs {
		if tx.UserID != userID || !tx.Location.HasCoordinates() || !tx.CreatedAt.Before(before) {
			continue
		}
		if latest == nil || tx.CreatedAt.After(latest.CreatedAt) {
			latest = tx
		}
	}
	return latest, nil
}

func (m *memRepo) SaveAssessment(_ context.Context, a *domain.Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assessments[a.ID] = a
	return nil
}

func (m *memRepo) GetAssessment(_ context.Context, id string) (*domain.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assessments[id], nil
}

func (m *memRepo) SaveProfile(_ context.Context, p *domain.UserRiskProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
	return nil
}

func (m *memRepo) GetProfile(_ context.Context, userID string) (*domain.UserRiskProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[userID], nil
}

func (m *memRepo) SaveCustomRule(_ context.Context, _ *domain.CustomRuleConfig) error { return nil }

func (m *memRepo) ListCustomRules(_ context.Context) ([]*domain.CustomRuleConfig, error) {
	return nil, nil
}

func (m *memRepo) Ping(_ context.Context) error { return nil }
func (m *memRepo) Close() error                 { return nil }

// recordingBus captures published topics for assertions.
type recordingBus struct {
	mu     sync.Mutex
	topics []string
}

func (b *recordingBus) Publish(_ context.Context, topic string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	return nil
}

func (b *recordingBus) Subscribe(_ context.Context, _ string, _ domain.MessageHandler) (domain.Subscription, error) {
	return nil, nil
}

func (b *recordingBus) Ping(_ context.Context) error { return nil }
func (b *recordingBus) Close() error                 { return nil }

func (b *recordingBus) published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.topics))
	copy(out, b.topics)
	return out
}

func newPipeline(t *testing.T) (*Service, *memRepo, *recordingBus) {
	t.Helper()

	repo := newMemRepo()
	bus := &recordingBus{}

	engine, err := rules.NewEngine(repo, 4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	svc := NewService(
		repo,
		profile.NewService(repo, nil),
		engine,
		scoring.NewExtractor(repo),
		scoring.NewModel(),
		tracker.New(100),
		bus,
	)
	return svc, repo, bus
}

func TestAssessHighRiskTransaction(t *testing.T) {
	svc, repo, bus := newPipeline(t)

	tx := &domain.Transaction{
		ID:               "tx-1",
		UserID:           "user-1",
		Amount:           decimal.NewFromInt(15000),
		Currency:         "USD",
		MerchantCategory: domain.CategoryCrypto,
		IsInternational:  true,
		CreatedAt:        time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC),
	}

	a, err := svc.Assess(context.Background(), tx)
	if err != nil {
		t.Fatalf("assess failed: %v", err)
	}

	if a.FinalProbability < 0 || a.FinalProbability > 1 {
		t.Errorf("probability out of range: %v", a.FinalProbability)
	}
	if a.Action != domain.ActionBlock && a.Action != domain.ActionReview {
		t.Errorf("stacked risk signals should at least require review, got %s", a.Action)
	}
	if len(a.Violations) == 0 {
		t.Error("expected violations")
	}
	if a.Explanation == nil {
		t.Fatal("expected explanation")
	}
	if a.Explanation.FinalProbability != a.FinalProbability {
		t.Error("explanation and assessment probabilities disagree")
	}
	if a.Metadata.EngineVersion != EngineVersion {
		t.Errorf("unexpected engine version %s", a.Metadata.EngineVersion)
	}

	// Persisted and retrievable.
	stored, err := repo.GetAssessment(context.Background(), a.ID)
	if err != nil || stored == nil {
		t.Fatalf("assessment not persisted: %v", err)
	}

	// Profile replaced after the transaction.
	p, _ := repo.GetProfile(context.Background(), "user-1")
	if p == nil || p.TotalTransactions != 1 {
		t.Errorf("profile not recomputed: %+v", p)
	}

	topics := bus.published()
	sort.Strings(topics)
	if len(topics) != 2 || topics[0] != domain.TopicAlert || topics[1] != domain.TopicAssessmentCompleted {
		t.Errorf("expected completed + alert events, got %v", topics)
	}
}

func TestAssessCleanTransactionApproves(t *testing.T) {
	svc, _, bus := newPipeline(t)
	ctx := context.Background()

	base := time.Date(2025, 5, 1, 14, 0, 0, 0, time.UTC)

	// Build up an uneventful history first.
	for i := 0; i < 30; i++ {
		tx := &domain.Transaction{
			ID:               "seed-" + string(rune('a'+i%26)) + string(rune('a'+i/26)),
			UserID:           "user-2",
			Amount:           decimal.NewFromInt(40 + int64(i%5)),
			Currency:         "USD",
			MerchantCategory: []string{"GROCERY", "DINING", "RETAIL", "FUEL"}[i%4],
			CreatedAt:        base.Add(time.Duration(i) * 26 * time.Hour),
		}
		if _, err := svc.Assess(ctx, tx); err != nil {
			t.Fatalf("seed assess failed: %v", err)
		}
	}

	tx := &domain.Transaction{
		ID:               "tx-clean",
		UserID:           "user-2",
		Amount:           decimal.NewFromInt(42),
		Currency:         "USD",
		MerchantCategory: "GROCERY",
		CreatedAt:        base.Add(31 * 26 * time.Hour),
	}

	a, err := svc.Assess(ctx, tx)
	if err != nil {
		t.Fatalf("assess failed: %v", err)
	}
	if len(a.Violations) != 0 {
		t.Errorf("expected no violations, got %+v", a.Violations)
	}
	if a.RuleProbability != 0 {
		t.Errorf("rule probability must be 0 without violations, got %v", a.RuleProbability)
	}
	if a.FinalProbability != a.ModelProbability {
		t.Error("without rule signal the model probability stands alone")
	}
	if a.Action == domain.ActionBlock {
		t.Errorf("clean transaction blocked: %+v", a)
	}

	for _, topic := range bus.published() {
		if topic == domain.TopicAlert && a.Action == domain.ActionApprove {
			t.Error("approved transaction must not alert")
		}
	}
}

func TestAssessFirstTransactionFromUnseenCountry(t *testing.T) {
	svc, _, _ := newPipeline(t)

	// The transaction is persisted before rules run; the country checks
	// must not treat that row as its own precedent.
	tx := &domain.Transaction{
		ID:               "tx-geo",
		UserID:           "user-geo",
		Amount:           decimal.NewFromInt(50),
		Currency:         "EUR",
		MerchantCategory: "GROCERY",
		Location: &domain.Geolocation{
			Latitude:  48.8566,
			Longitude: 2.3522,
			Country:   "FR",
		},
		CreatedAt: time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC),
	}

	a, err := svc.Assess(context.Background(), tx)
	if err != nil {
		t.Fatalf("assess failed: %v", err)
	}

	var geo *domain.FraudViolation
	for i := range a.Violations {
		if a.Violations[i].RuleID == domain.RuleGeographicAnomaly {
			geo = &a.Violations[i]
		}
	}
	if geo == nil {
		t.Fatalf("new user's first transaction from an unseen country must flag a geographic anomaly, got %+v", a.Violations)
	}
	if geo.RiskScore != 0.75 {
		t.Errorf("expected new-user risk 0.75, got %v", geo.RiskScore)
	}
	if a.Action == domain.ActionApprove {
		t.Errorf("unseen-country first transaction approved outright: %+v", a)
	}
}

func TestAssessSpikeAgainstPriorHistoryOnly(t *testing.T) {
	svc, _, _ := newPipeline(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		tx := &domain.Transaction{
			ID:               "spike-seed-" + string(rune('a'+i)),
			UserID:           "user-spike",
			Amount:           decimal.NewFromInt(100),
			Currency:         "USD",
			MerchantCategory: "GROCERY",
			CreatedAt:        base.Add(time.Duration(i) * 24 * time.Hour),
		}
		if _, err := svc.Assess(ctx, tx); err != nil {
			t.Fatalf("seed assess failed: %v", err)
		}
	}

	// 9000 against a trailing average of 100 is far beyond the 5x tier.
	// The spike baseline must come from the three priors alone, not a
	// self-inclusive average.
	tx := &domain.Transaction{
		ID:               "spike-big",
		UserID:           "user-spike",
		Amount:           decimal.NewFromInt(9000),
		Currency:         "USD",
		MerchantCategory: "GROCERY",
		CreatedAt:        base.Add(4 * 24 * time.Hour),
	}
	a, err := svc.Assess(ctx, tx)
	if err != nil {
		t.Fatalf("assess failed: %v", err)
	}

	var spike *domain.FraudViolation
	for i := range a.Violations {
		if a.Violations[i].RuleID == domain.RuleAmountSpike {
			spike = &a.Violations[i]
		}
	}
	if spike == nil {
		t.Fatalf("90x spike did not fire, got %+v", a.Violations)
	}
	if spike.RiskScore != 0.85 {
		t.Errorf("90x spike should land in the 5x tier at 0.85, got %v", spike.RiskScore)
	}
}

func TestAssessValidation(t *testing.T) {
	svc, _, _ := newPipeline(t)
	ctx := context.Background()

	cases := []*domain.Transaction{
		nil,
		{UserID: "u", Amount: decimal.NewFromInt(1), CreatedAt: time.Now()},
		{ID: "t", Amount: decimal.NewFromInt(1), CreatedAt: time.Now()},
		{ID: "t", UserID: "u", Amount: decimal.NewFromInt(-5), CreatedAt: time.Now()},
		{ID: "t", UserID: "u", Amount: decimal.NewFromInt(1)},
	}
	for i, tx := range cases {
		if _, err := svc.Assess(ctx, tx); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestFeedbackFlowsIntoMetrics(t *testing.T) {
	svc, _, bus := newPipeline(t)
	ctx := context.Background()

	base := time.Date(2025, 5, 1, 14, 0, 0, 0, time.UTC)
	ids := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		tx := &domain.Transaction{
			ID:               "fb-" + string(rune('a'+i)),
			UserID:           "user-3",
			Amount:           decimal.NewFromInt(11000),
			Currency:         "USD",
			MerchantCategory: domain.CategoryGambling,
			CreatedAt:        base.Add(time.Duration(i) * 48 * time.Hour),
		}
		if _, err := svc.Assess(ctx, tx); err != nil {
			t.Fatalf("assess failed: %v", err)
		}
		ids = append(ids, tx.ID)
	}

	for i, id := range ids {
		svc.Feedback(ctx, id, i%2 == 0)
	}

	m := svc.Metrics()
	if m.LabeledCount != 12 {
		t.Errorf("expected 12 labeled predictions, got %d", m.LabeledCount)
	}
	if m.Baseline {
		t.Error("12 labels should clear the baseline sentinel")
	}
	if len(m.RuleStats) == 0 {
		t.Error("expected per-rule stats after feedback")
	}

	var feedbackEvents int
	for _, topic := range bus.published() {
		if topic == domain.TopicFeedbackReceived {
			feedbackEvents++
		}
	}
	if feedbackEvents != 12 {
		t.Errorf("expected 12 feedback events, got %d", feedbackEvents)
	}
}

func TestScoreAndExplainDoNotPersist(t *testing.T) {
	svc, repo, _ := newPipeline(t)
	ctx := context.Background()

	tx := &domain.Transaction{
		ID:               "tx-dry",
		UserID:           "user-4",
		Amount:           decimal.NewFromInt(12000),
		Currency:         "USD",
		MerchantCategory: domain.CategoryCrypto,
		CreatedAt:        time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC),
	}
	p := &domain.UserRiskProfile{UserID: "user-4"}

	prob, action, err := svc.Score(ctx, tx, p, domain.MerchantFrequency{})
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if prob < 0 || prob > 1 {
		t.Errorf("probability out of range: %v", prob)
	}
	if action == "" {
		t.Error("expected an action")
	}

	e, err := svc.Explain(ctx, tx, p, domain.MerchantFrequency{})
	if err != nil {
		t.Fatalf("explain failed: %v", err)
	}
	if e.BaselineProbability != 0.05 {
		t.Errorf("unexpected baseline %v", e.BaselineProbability)
	}

	if len(repo.txs) != 0 {
		t.Error("score/explain must not persist transactions")
	}
	if len(repo.assessments) != 0 {
		t.Error("score/explain must not persist assessments")
	}
}
