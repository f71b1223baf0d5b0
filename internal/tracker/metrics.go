package tracker

import (
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const defaultThreshold = 0.5

// thresholdGrid is the fixed sweep used for the optimal-threshold
// search.
var thresholdGrid = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}

// Metrics derives the current performance snapshot. With fewer than
// MinLabeledSamples labeled predictions it returns fixed baseline
// sentinels instead of unstable estimates. Degenerate label
// distributions never raise errors.
func (t *Tracker) Metrics() *domain.ModelMetrics {
	labeled, total := t.snapshot()

	m := &domain.ModelMetrics{
		SampleCount:  total,
		LabeledCount: len(labeled),
		RuleStats:    t.ruleStats(),
		GeneratedAt:  time.Now().UTC(),
	}

	if len(labeled) < domain.MinLabeledSamples {
		m.Baseline = true
		m.AUCROC = domain.BaselineAUCROC
		m.AUCPR = domain.BaselineAUCPR
		m.OptimalThreshold = domain.ThresholdMetric{Threshold: defaultThreshold}
		m.DefaultThreshold = domain.ThresholdMetric{Threshold: defaultThreshold}
		return m
	}

	sorted := make([]domain.PredictionRecord, len(labeled))
	copy(sorted, labeled)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PredictedProbability > sorted[j].PredictedProbability
	})

	m.ROCCurve = rocCurve(sorted)
	m.PRCurve = prCurve(sorted)
	m.AUCROC = clamp01(trapezoid(m.ROCCurve))
	m.AUCPR = clamp01(trapezoid(m.PRCurve))

	m.OptimalThreshold = optimalThreshold(labeled)
	m.DefaultThreshold = thresholdMetric(labeled, defaultThreshold)

	return m
}

// rocCurve walks the records in descending probability order and
// accumulates TPR/FPR at each cut point. A single-class label set
// degenerates to the two-point diagonal.
func rocCurve(sorted []domain.PredictionRecord) []domain.CurvePoint {
	var positives, negatives int
	for _, r := range sorted {
		if r.ActualFraud {
			positives++
		} else {
			negatives++
		}
	}

	if positives == 0 || negatives == 0 {
		return []domain.CurvePoint{{X: 0, Y: 0}, {X: 1, Y: 1}}
	}

	points := make([]domain.CurvePoint, 0, len(sorted)+1)
	points = append(points, domain.CurvePoint{X: 0, Y: 0})

	var tp, fp int
	for _, r := range sorted {
		if r.ActualFraud {
			tp++
		} else {
			fp++
		}
		points = append(points, domain.CurvePoint{
			X: float64(fp) / float64(negatives),
			Y: float64(tp) / float64(positives),
		})
	}
	return points
}

// prCurve accumulates precision/recall at each cut point, recall on X.
func prCurve(sorted []domain.PredictionRecord) []domain.CurvePoint {
	var positives int
	for _, r := range sorted {
		if r.ActualFraud {
			positives++
		}
	}

	if positives == 0 {
		return []domain.CurvePoint{{X: 0, Y: 0}, {X: 1, Y: 0}}
	}

	points := make([]domain.CurvePoint, 0, len(sorted)+1)
	points = append(points, domain.CurvePoint{X: 0, Y: 1})

	var tp, fp int
	for _, r := range sorted {
		if r.ActualFraud {
			tp++
		} else {
			fp++
		}
		points = append(points, domain.CurvePoint{
			X: float64(tp) / float64(positives),
			Y: float64(tp) / float64(tp+fp),
		})
	}
	return points
}

// trapezoid integrates a curve by the trapezoidal rule. Zero-width
// segments contribute nothing.
func trapezoid(points []domain.CurvePoint) float64 {
	var area float64
	for i := 1; i < len(points); i++ {
		dx := points[i].X - points[i-1].X
		area += dx * (points[i].Y + points[i-1].Y) / 2
	}
	return area
}

// optimalThreshold sweeps the fixed grid and returns the metrics at the
// F1-maximizing cutoff.
func optimalThreshold(labeled []domain.PredictionRecord) domain.ThresholdMetric {
	best := thresholdMetric(labeled, thresholdGrid[0])
	for _, th := range thresholdGrid[1:] {
		candidate := thresholdMetric(labeled, th)
		if candidate.F1 > best.F1 {
			best = candidate
		}
	}
	return best
}

// thresholdMetric classifies every labeled record at the cutoff and
// summarizes the resulting confusion matrix.
func thresholdMetric(labeled []domain.PredictionRecord, threshold float64) domain.ThresholdMetric {
	var matrix domain.ConfusionMatrix
	for _, r := range labeled {
		predicted := r.PredictedProbability >= threshold
		switch {
		case predicted && r.ActualFraud:
			matrix.TruePositives++
		case predicted && !r.ActualFraud:
			matrix.FalsePositives++
		case !predicted && r.ActualFraud:
			matrix.FalseNegatives++
		default:
			matrix.TrueNegatives++
		}
	}

	return domain.ThresholdMetric{
		Threshold: threshold,
		Precision: matrix.Precision(),
		Recall:    matrix.Recall(),
		F1:        matrix.F1(),
		Matrix:    matrix,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
