package synth

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/attunestack/attune-pipeline/internal/models"
)

const (
	pulseMin = 50
	pulseMax = 120

	emotionMin = -1
	emotionMax = 1

	defaultSequenceLength = 30
)

// GeneratePulseSequence emits a bounded random walk of heart-rate samples,
// anchored on the batch's fitted bpm statistics.
func (g *Generator) GeneratePulseSequence(records []models.AnonymizedRecord, length int) models.SyntheticSample {
	if length <= 0 {
		length = defaultSequenceLength
	}

	dists := FitDistributions(records)
	dist, ok := firstNumeric(dists, "bpm", "pulse", "heartRate")
	if !ok {
		dist = models.FeatureDistribution{Kind: models.FeatureNumeric, Mean: 72, StdDev: 4, Min: pulseMin, Max: pulseMax}
	}

	sequence := make([]float64, length)
	value := clip(dist.Mean, pulseMin, pulseMax)
	for i := 0; i < length; i++ {
		value = clip(value+g.norm()*dist.StdDev*0.5, pulseMin, pulseMax)
		sequence[i] = value
	}

	return models.SyntheticSample{
		Features: map[string]models.FeatureValue{
			"pulseSequence": models.VectorValue(sequence),
		},
		SourceDistribution: "pulse_sequence",
		QualityScore:       sequenceQuality(sequence, dist),
		SyntheticID:        uuid.NewString(),
		GeneratedAt:        time.Now().UTC(),
	}
}

// GenerateEmotionTrajectory emits bounded random walks for valence and
// arousal, each clipped to the emotion range.
func (g *Generator) GenerateEmotionTrajectory(records []models.AnonymizedRecord, length int) models.SyntheticSample {
	if length <= 0 {
		length = defaultSequenceLength
	}

	dists := FitDistributions(records)
	valence, ok := firstNumeric(dists, "valence", "sentiment")
	if !ok {
		valence = models.FeatureDistribution{Kind: models.FeatureNumeric, Mean: 0, StdDev: 0.3, Min: emotionMin, Max: emotionMax}
	}
	arousal, ok := firstNumeric(dists, "arousal")
	if !ok {
		arousal = models.FeatureDistribution{Kind: models.FeatureNumeric, Mean: 0, StdDev: 0.3, Min: emotionMin, Max: emotionMax}
	}

	valenceWalk := make([]float64, length)
	arousalWalk := make([]float64, length)
	v := clip(valence.Mean, emotionMin, emotionMax)
	a := clip(arousal.Mean, emotionMin, emotionMax)
	for i := 0; i < length; i++ {
		v = clip(v+g.norm()*valence.StdDev*0.3, emotionMin, emotionMax)
		a = clip(a+g.norm()*arousal.StdDev*0.3, emotionMin, emotionMax)
		valenceWalk[i] = v
		arousalWalk[i] = a
	}

	quality := (sequenceQuality(valenceWalk, valence) + sequenceQuality(arousalWalk, arousal)) / 2
	return models.SyntheticSample{
		Features: map[string]models.FeatureValue{
			"valenceTrajectory": models.VectorValue(valenceWalk),
			"arousalTrajectory": models.VectorValue(arousalWalk),
		},
		SourceDistribution: "emotion_trajectory",
		QualityScore:       quality,
		SyntheticID:        uuid.NewString(),
		GeneratedAt:        time.Now().UTC(),
	}
}

// sequenceQuality mirrors the flat-bag numeric scoring averaged over the walk.
func sequenceQuality(sequence []float64, dist models.FeatureDistribution) float64 {
	if len(sequence) == 0 {
		return 0.5
	}
	total := 0.0
	for _, value := range sequence {
		z := (value - dist.Mean) / dist.StdDev
		total += math.Exp(-math.Abs(z) / 3)
	}
	return total / float64(len(sequence))
}

func firstNumeric(dists map[string]models.FeatureDistribution, keys ...string) (models.FeatureDistribution, bool) {
	for _, key := range keys {
		if dist, ok := dists[key]; ok && dist.Kind == models.FeatureNumeric {
			return dist, true
		}
	}
	return models.FeatureDistribution{}, false
}
