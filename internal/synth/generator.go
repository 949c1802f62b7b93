package synth

import (
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attunestack/attune-pipeline/internal/models"
	"github.com/attunestack/attune-pipeline/internal/utils"
)

const (
	// DefaultQualityThreshold filters out samples that stray too far from the
	// fitted source distribution.
	DefaultQualityThreshold = 0.7

	defaultSampleCount = 100
	diffusionSteps     = 50

	// diversityWindow bounds pairwise comparisons to keep scoring linear-ish.
	diversityWindow = 9
)

// Options selects the sampling strategy for one generation request. A nil
// QualityThreshold means the default; an explicit zero keeps every sample.
type Options struct {
	Method           models.GenerationMethod
	SampleCount      int
	QualityThreshold *float64
}

// Generator expands anonymized batches into synthetic training data.
type Generator struct {
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New constructs a Generator. A nil rng falls back to a time-seeded source.
func New(logger *slog.Logger, rng *rand.Rand) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{logger: logger, rng: rng}
}

// GenerateFromAnonymized fits per-feature distributions over the input batch,
// draws SampleCount raw feature bags with the requested method, and returns
// the samples whose quality score clears the threshold.
func (g *Generator) GenerateFromAnonymized(records []models.AnonymizedRecord, opts Options) ([]models.SyntheticSample, error) {
	const op = "synth.GenerateFromAnonymized"

	switch opts.Method {
	case models.MethodRuleBased, models.MethodVAE, models.MethodDiffusion, models.MethodGAN:
	default:
		return nil, utils.ValidationError(op, "unknown generation method %q", opts.Method)
	}

	count := opts.SampleCount
	if count <= 0 {
		count = defaultSampleCount
	}
	threshold := DefaultQualityThreshold
	if opts.QualityThreshold != nil {
		threshold = *opts.QualityThreshold
	}

	dists := FitDistributions(records)
	keys := sortedKeys(dists)

	samples := make([]models.SyntheticSample, 0, count)
	for i := 0; i < count; i++ {
		features := g.sampleFeatures(keys, dists, opts.Method)
		score := scoreSample(features, dists)
		if score < threshold {
			continue
		}
		samples = append(samples, models.SyntheticSample{
			Features:           features,
			SourceDistribution: string(opts.Method),
			QualityScore:       score,
			SyntheticID:        uuid.NewString(),
			GeneratedAt:        time.Now().UTC(),
		})
	}

	g.logger.Debug("synthetic batch generated",
		slog.String("method", string(opts.Method)),
		slog.Int("requested", count),
		slog.Int("kept", len(samples)),
	)
	return samples, nil
}

// FitDistributions summarises each scalar feature across the batch. The
// feature type is inferred from the first observed value per key; vector and
// nested features are left to the sequence generators.
func FitDistributions(records []models.AnonymizedRecord) map[string]models.FeatureDistribution {
	type numericAgg struct {
		values []float64
	}
	numerics := make(map[string]*numericAgg)
	booleans := make(map[string]*struct{ trues, total int })
	categoricals := make(map[string]map[string]int)
	kinds := make(map[string]models.FeatureKind)

	for _, record := range records {
		for key, value := range record.Features {
			kind, seen := kinds[key]
			if !seen {
				switch value.Kind {
				case models.FeatureNumeric, models.FeatureBoolean, models.FeatureCategorical:
					kinds[key] = value.Kind
					kind = value.Kind
				default:
					continue
				}
			}
			if value.Kind != kind {
				continue
			}
			switch kind {
			case models.FeatureNumeric:
				agg, ok := numerics[key]
				if !ok {
					agg = &numericAgg{}
					numerics[key] = agg
				}
				agg.values = append(agg.values, value.Number)
			case models.FeatureBoolean:
				agg, ok := booleans[key]
				if !ok {
					agg = &struct{ trues, total int }{}
					booleans[key] = agg
				}
				if value.Bool {
					agg.trues++
				}
				agg.total++
			case models.FeatureCategorical:
				counts, ok := categoricals[key]
				if !ok {
					counts = make(map[string]int)
					categoricals[key] = counts
				}
				counts[value.Text]++
			}
		}
	}

	dists := make(map[string]models.FeatureDistribution, len(kinds))
	for key, values := range numerics {
		dists[key] = fitNumeric(values.values)
	}
	for key, agg := range booleans {
		ratio := 0.0
		if agg.total > 0 {
			ratio = float64(agg.trues) / float64(agg.total)
		}
		dists[key] = models.FeatureDistribution{Kind: models.FeatureBoolean, TrueRatio: ratio}
	}
	for key, counts := range categoricals {
		total := 0
		for _, c := range counts {
			total += c
		}
		probs := make(map[string]float64, len(counts))
		for value, c := range counts {
			probs[value] = float64(c) / float64(total)
		}
		dists[key] = models.FeatureDistribution{Kind: models.FeatureCategorical, Categories: probs}
	}
	return dists
}

func fitNumeric(values []float64) models.FeatureDistribution {
	dist := models.FeatureDistribution{Kind: models.FeatureNumeric, StdDev: 1}
	if len(values) == 0 {
		return dist
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	min, max := values[0], values[0]
	for _, v := range values {
		variance += (v - mean) * (v - mean)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	variance /= float64(len(values))

	dist.Mean = mean
	dist.Min = min
	dist.Max = max
	dist.StdDev = math.Sqrt(variance)
	if dist.StdDev == 0 {
		// Degenerate batches must not zero out downstream sampling.
		dist.StdDev = 1
	}
	return dist
}

func (g *Generator) sampleFeatures(keys []string, dists map[string]models.FeatureDistribution, method models.GenerationMethod) map[string]models.FeatureValue {
	features := make(map[string]models.FeatureValue, len(keys))
	for _, key := range keys {
		dist := dists[key]
		switch dist.Kind {
		case models.FeatureNumeric:
			features[key] = models.Number(g.sampleNumeric(dist, method))
		case models.FeatureBoolean:
			features[key] = models.Boolean(g.float64() < dist.TrueRatio)
		case models.FeatureCategorical:
			features[key] = models.Categorical(g.sampleCategory(dist.Categories))
		}
	}
	return features
}

func (g *Generator) sampleNumeric(dist models.FeatureDistribution, method models.GenerationMethod) float64 {
	switch method {
	case models.MethodVAE:
		// Latent sampler: a standard-normal coordinate mapped through the
		// fitted moments and clipped to the observed range.
		value := g.norm()*dist.StdDev + dist.Mean
		return clip(value, dist.Min, dist.Max)
	case models.MethodDiffusion:
		return g.diffuse(dist)
	case models.MethodGAN:
		// Fixed nonlinear squash, not an adversarially trained generator.
		return math.Tanh(g.norm())*dist.StdDev + dist.Mean
	default:
		return g.norm()*dist.StdDev + dist.Mean
	}
}

// diffuse starts wide of the mean and blends back toward it over a fixed
// number of steps with linearly decaying weight and shrinking injected noise.
func (g *Generator) diffuse(dist models.FeatureDistribution) float64 {
	value := dist.Mean + g.norm()*2*dist.StdDev
	for step := 0; step < diffusionSteps; step++ {
		weight := float64(diffusionSteps-step) / float64(diffusionSteps)
		noise := g.norm() * 0.1 * dist.StdDev * weight
		value = value*weight + dist.Mean*(1-weight) + noise
	}
	return value
}

func (g *Generator) sampleCategory(categories map[string]float64) string {
	if len(categories) == 0 {
		return ""
	}
	values := make([]string, 0, len(categories))
	for value := range categories {
		values = append(values, value)
	}
	sort.Strings(values)

	target := g.float64()
	cumulative := 0.0
	for _, value := range values {
		cumulative += categories[value]
		if target <= cumulative {
			return value
		}
	}
	return values[len(values)-1]
}

// scoreSample estimates how well one synthetic bag matches the fitted batch.
func scoreSample(features map[string]models.FeatureValue, dists map[string]models.FeatureDistribution) float64 {
	total := 0.0
	scored := 0
	for key, value := range features {
		dist, ok := dists[key]
		if !ok {
			continue
		}
		switch dist.Kind {
		case models.FeatureNumeric:
			if value.Number < dist.Min || value.Number > dist.Max {
				total += 0.3
			} else {
				z := (value.Number - dist.Mean) / dist.StdDev
				total += math.Exp(-math.Abs(z) / 3)
			}
		case models.FeatureBoolean:
			total += 0.8
		case models.FeatureCategorical:
			if _, known := dist.Categories[value.Text]; known {
				total += 0.9
			} else {
				total += 0.5
			}
		default:
			continue
		}
		scored++
	}
	if scored == 0 {
		return 0.5
	}
	return total / float64(scored)
}

// DiversityScore measures spread in a batch: average pairwise Euclidean
// distance comparing each sample against its next neighbours only, normalised
// to [0,1].
func DiversityScore(samples []models.SyntheticSample) float64 {
	if len(samples) < 2 {
		return 0
	}

	vectors := make([][]float64, len(samples))
	keys := numericKeysOf(samples)
	for i, sample := range samples {
		vec := make([]float64, len(keys))
		for j, key := range keys {
			if v, ok := sample.Features[key]; ok && v.Kind == models.FeatureNumeric {
				vec[j] = v.Number
			}
		}
		vectors[i] = vec
	}

	totalDistance := 0.0
	pairs := 0
	for i := range vectors {
		limit := i + 1 + diversityWindow
		if limit > len(vectors) {
			limit = len(vectors)
		}
		for j := i + 1; j < limit; j++ {
			totalDistance += euclidean(vectors[i], vectors[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}

	score := totalDistance / float64(pairs) / 10
	if score > 1 {
		score = 1
	}
	return score
}

func numericKeysOf(samples []models.SyntheticSample) []string {
	seen := make(map[string]struct{})
	for _, sample := range samples {
		for key, value := range sample.Features {
			if value.Kind == models.FeatureNumeric {
				seen[key] = struct{}{}
			}
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func sortedKeys(dists map[string]models.FeatureDistribution) []string {
	keys := make([]string, 0, len(dists))
	for key := range dists {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (g *Generator) norm() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.NormFloat64()
}

func (g *Generator) float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64()
}

func clip(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
