package anonymize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/attunestack/attune-pipeline/internal/models"
	"github.com/attunestack/attune-pipeline/internal/utils"
)

// Config selects the anonymization technique and its parameters.
type Config struct {
	Technique models.Technique
	Epsilon   float64
	K         int
}

const (
	defaultEpsilon = 1.0
	defaultK       = 5

	// Fixed privacy-loss estimates for the non-parametric techniques.
	pseudonymizationLoss = 0.1
	kAnonymityLoss       = 0.3
	generalizationLoss   = 0.2

	generalizationBin = 10
	maxStringLength   = 10
)

// identifierKeySubstrings flags keys that must never reach the feature bag.
var identifierKeySubstrings = []string{"id", "email", "phone", "ssn", "name", "address", "ip"}

var (
	emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phoneShape = regexp.MustCompile(`^\+?[\d\s().-]{7,}$`)
	ssnShape   = regexp.MustCompile(`^\d{3}-?\d{2}-?\d{4}$`)
)

// Anonymizer privatizes raw telemetry records. The salt must stay constant for
// a deployment so pseudonyms remain stable across calls.
type Anonymizer struct {
	logger *slog.Logger
	salt   string

	mu  sync.Mutex
	rng *rand.Rand
}

// New constructs an Anonymizer. A nil rng falls back to a time-seeded source.
func New(logger *slog.Logger, salt string, rng *rand.Rand) *Anonymizer {
	if logger == nil {
		logger = slog.Default()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Anonymizer{logger: logger, salt: salt, rng: rng}
}

// Anonymize privatizes one record. Unknown techniques fail immediately with a
// validation error and no partial output.
func (a *Anonymizer) Anonymize(userID string, data map[string]models.FeatureValue, cfg Config) (models.AnonymizedRecord, error) {
	const op = "anonymize.Anonymize"

	record := models.AnonymizedRecord{
		Technique:    cfg.Technique,
		OriginalType: originalType(data),
		Timestamp:    time.Now().UTC(),
	}

	switch cfg.Technique {
	case models.TechniquePseudonymization:
		record.Features = a.pseudonymize(userID, data)
		record.PrivacyLoss = pseudonymizationLoss
	case models.TechniqueDifferentialPrivacy:
		epsilon := cfg.Epsilon
		if epsilon <= 0 {
			epsilon = defaultEpsilon
		}
		record.Features = a.differentialPrivacy(data, epsilon)
		record.PrivacyLoss = epsilon
	case models.TechniqueKAnonymity:
		k := cfg.K
		if k <= 0 {
			k = defaultK
		}
		record.Features = generalizeFeatures(data, float64(k), false)
		record.PrivacyLoss = kAnonymityLoss
	case models.TechniqueGeneralization:
		record.Features = generalizeFeatures(data, generalizationBin, true)
		record.PrivacyLoss = generalizationLoss
	default:
		return models.AnonymizedRecord{}, utils.ValidationError(op, "unknown anonymization technique %q", cfg.Technique)
	}

	a.logger.Debug("record anonymized",
		slog.String("technique", string(cfg.Technique)),
		slog.Int("features", len(record.Features)),
		slog.Float64("privacy_loss", record.PrivacyLoss),
	)
	return record, nil
}

// BatchAnonymize fans independent anonymizations over a worker pool and
// returns records in input order. The technique is validated once up front so
// a bad config produces no partial effects.
func (a *Anonymizer) BatchAnonymize(items []models.BatchAnonymizeItem, cfg Config) ([]models.AnonymizedRecord, error) {
	const op = "anonymize.BatchAnonymize"

	switch cfg.Technique {
	case models.TechniquePseudonymization, models.TechniqueDifferentialPrivacy,
		models.TechniqueKAnonymity, models.TechniqueGeneralization:
	default:
		return nil, utils.ValidationError(op, "unknown anonymization technique %q", cfg.Technique)
	}

	results := make([]models.AnonymizedRecord, len(items))
	errs := make([]error, len(items))

	workers := 4
	if len(items) < workers {
		workers = len(items)
	}
	if workers == 0 {
		return results, nil
	}

	var wg sync.WaitGroup
	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i], errs[i] = a.Anonymize(items[i].UserID, items[i].Data, cfg)
			}
		}()
	}
	for i := range items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return results, nil
}

// Pseudonym derives the stable 16-hex-char pseudonym for a user identifier.
func (a *Anonymizer) Pseudonym(userID string) string {
	sum := sha256.Sum256([]byte(a.salt + userID))
	return hex.EncodeToString(sum[:])[:16]
}

func (a *Anonymizer) pseudonymize(userID string, data map[string]models.FeatureValue) map[string]models.FeatureValue {
	features := a.pseudonymizeFeatures(data)
	features["pseudoId"] = models.Categorical(a.Pseudonym(userID))
	return features
}

func (a *Anonymizer) pseudonymizeFeatures(data map[string]models.FeatureValue) map[string]models.FeatureValue {
	features := make(map[string]models.FeatureValue, len(data)+1)
	for key, value := range data {
		if isIdentifierKey(key) {
			continue
		}
		switch value.Kind {
		case models.FeatureNumeric:
			features[key] = models.Number(a.proportionalNoise(value.Number))
		case models.FeatureCategorical:
			features[key] = models.Categorical(maskSensitiveString(value.Text))
		case models.FeatureNested:
			features[key] = models.NestedValue(a.pseudonymizeFeatures(value.Nested))
		default:
			features[key] = value.Clone()
		}
	}
	return features
}

func (a *Anonymizer) differentialPrivacy(data map[string]models.FeatureValue, epsilon float64) map[string]models.FeatureValue {
	features := make(map[string]models.FeatureValue, len(data))
	for key, value := range data {
		if isIdentifierKey(key) {
			continue
		}
		switch value.Kind {
		case models.FeatureNumeric:
			scale := 0.1 * math.Abs(value.Number) / epsilon
			features[key] = models.Number(value.Number + a.laplace(scale))
		case models.FeatureVector:
			noisy := make([]float64, len(value.Vector))
			for i, v := range value.Vector {
				noisy[i] = v + a.laplace(1/epsilon)
			}
			features[key] = models.VectorValue(noisy)
		case models.FeatureNested:
			features[key] = models.NestedValue(a.differentialPrivacy(value.Nested, epsilon))
		default:
			features[key] = value.Clone()
		}
	}
	return features
}

// generalizeFeatures floors numerics to bin multiples and truncates long
// strings. Vector elements are binned only when binVectors is set, matching
// the generalization technique; k-anonymity touches scalars alone.
func generalizeFeatures(data map[string]models.FeatureValue, bin float64, binVectors bool) map[string]models.FeatureValue {
	features := make(map[string]models.FeatureValue, len(data))
	for key, value := range data {
		if isIdentifierKey(key) {
			continue
		}
		switch value.Kind {
		case models.FeatureNumeric:
			features[key] = models.Number(floorToBin(value.Number, bin))
		case models.FeatureVector:
			if !binVectors {
				features[key] = value.Clone()
				continue
			}
			binned := make([]float64, len(value.Vector))
			for i, v := range value.Vector {
				binned[i] = floorToBin(v, bin)
			}
			features[key] = models.VectorValue(binned)
		case models.FeatureCategorical:
			features[key] = models.Categorical(truncateString(value.Text))
		case models.FeatureNested:
			features[key] = models.NestedValue(generalizeFeatures(value.Nested, bin, binVectors))
		default:
			features[key] = value.Clone()
		}
	}
	return features
}

func (a *Anonymizer) proportionalNoise(value float64) float64 {
	a.mu.Lock()
	factor := 1 + (a.rng.Float64()*0.1 - 0.05)
	a.mu.Unlock()
	return value * factor
}

// laplace draws Laplace(0, scale) noise via inverse CDF sampling.
func (a *Anonymizer) laplace(scale float64) float64 {
	if scale <= 0 {
		return 0
	}
	a.mu.Lock()
	u := a.rng.Float64() - 0.5
	a.mu.Unlock()
	sign := 1.0
	if u < 0 {
		sign = -1.0
	}
	return -scale * sign * math.Log(1-2*math.Abs(u))
}

func isIdentifierKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range identifierKeySubstrings {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// maskSensitiveString masks values shaped like emails, phone numbers, or SSNs,
// keeping the first and last two characters.
func maskSensitiveString(value string) string {
	if !emailShape.MatchString(value) && !phoneShape.MatchString(value) && !ssnShape.MatchString(value) {
		return value
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
}

func floorToBin(value, bin float64) float64 {
	if bin <= 0 {
		return value
	}
	return math.Floor(value/bin) * bin
}

func truncateString(value string) string {
	if len(value) <= maxStringLength {
		return value
	}
	return value[:maxStringLength] + "..."
}

func originalType(data map[string]models.FeatureValue) string {
	if v, ok := data["type"]; ok && v.Kind == models.FeatureCategorical {
		return v.Text
	}
	return "behavioral"
}
