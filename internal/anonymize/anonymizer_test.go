package anonymize

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/attunestack/attune-pipeline/internal/models"
	"github.com/attunestack/attune-pipeline/internal/utils"
)

func newTestAnonymizer() *Anonymizer {
	return New(nil, "test-salt", rand.New(rand.NewSource(42)))
}

func sampleData() map[string]models.FeatureValue {
	return map[string]models.FeatureValue{
		"type":      models.Categorical("mood"),
		"valence":   models.Number(0.62),
		"bpm":       models.Number(72),
		"active":    models.Boolean(true),
		"embedding": models.VectorValue([]float64{0.1, 0.2, 0.3}),
		"email":     models.Categorical("user@example.com"),
		"deviceId":  models.Categorical("abc-123"),
	}
}

func TestPseudonymizationExcludesIdentifiers(t *testing.T) {
	a := newTestAnonymizer()

	record, err := a.Anonymize("user-1", sampleData(), Config{Technique: models.TechniquePseudonymization})
	if err != nil {
		t.Fatalf("anonymize failed: %v", err)
	}
	for key := range record.Features {
		if key == "pseudoId" {
			continue
		}
		if isIdentifierKey(key) {
			t.Fatalf("identifier key %q leaked into features", key)
		}
	}
	if _, ok := record.Features["email"]; ok {
		t.Fatalf("email survived pseudonymization")
	}
	if _, ok := record.Features["deviceId"]; ok {
		t.Fatalf("deviceId survived pseudonymization")
	}
	if record.PrivacyLoss != 0.1 {
		t.Fatalf("expected privacy loss 0.1, got %f", record.PrivacyLoss)
	}
	if record.OriginalType != "mood" {
		t.Fatalf("expected original type mood, got %q", record.OriginalType)
	}
}

func TestPseudonymIsStableAndSaltDependent(t *testing.T) {
	a := newTestAnonymizer()
	first := a.Pseudonym("user-1")
	second := a.Pseudonym("user-1")
	if first != second {
		t.Fatalf("same user produced different pseudonyms: %q vs %q", first, second)
	}
	if len(first) != 16 {
		t.Fatalf("expected 16-char pseudonym, got %d chars", len(first))
	}
	if first == a.Pseudonym("user-2") {
		t.Fatalf("different users collided on pseudonym")
	}

	other := New(nil, "other-salt", rand.New(rand.NewSource(42)))
	if first == other.Pseudonym("user-1") {
		t.Fatalf("pseudonym did not depend on salt")
	}
}

func TestDifferentialPrivacyPerturbsNumerics(t *testing.T) {
	a := newTestAnonymizer()
	record, err := a.Anonymize("user-1", sampleData(), Config{
		Technique: models.TechniqueDifferentialPrivacy,
		Epsilon:   0.5,
	})
	if err != nil {
		t.Fatalf("anonymize failed: %v", err)
	}
	if record.PrivacyLoss != 0.5 {
		t.Fatalf("expected privacy loss to equal epsilon, got %f", record.PrivacyLoss)
	}
	valence := record.Features["valence"]
	if valence.Kind != models.FeatureNumeric {
		t.Fatalf("valence lost its numeric kind")
	}
	// With a fixed seed the Laplace draw is deterministic and nonzero.
	if valence.Number == 0.62 {
		t.Fatalf("expected noise on valence")
	}
	vec := record.Features["embedding"]
	if len(vec.Vector) != 3 {
		t.Fatalf("vector length changed: %d", len(vec.Vector))
	}
}

func TestKAnonymityFloorsToBin(t *testing.T) {
	a := newTestAnonymizer()
	data := map[string]models.FeatureValue{
		"bpm":       models.Number(77),
		"embedding": models.VectorValue([]float64{13, 27}),
	}
	record, err := a.Anonymize("user-1", data, Config{Technique: models.TechniqueKAnonymity, K: 5})
	if err != nil {
		t.Fatalf("anonymize failed: %v", err)
	}
	if got := record.Features["bpm"].Number; got != 75 {
		t.Fatalf("expected 77 floored to 75, got %f", got)
	}
	// K-anonymity leaves vector elements alone.
	if got := record.Features["embedding"].Vector[0]; got != 13 {
		t.Fatalf("k-anonymity binned a vector element: %f", got)
	}
	if record.PrivacyLoss != 0.3 {
		t.Fatalf("expected privacy loss 0.3, got %f", record.PrivacyLoss)
	}
}

func TestGeneralizationBinsVectorsAndTruncates(t *testing.T) {
	a := newTestAnonymizer()
	data := map[string]models.FeatureValue{
		"bpm":       models.Number(77),
		"embedding": models.VectorValue([]float64{13, 27}),
		"note":      models.Categorical("a very long free-text note"),
	}
	record, err := a.Anonymize("user-1", data, Config{Technique: models.TechniqueGeneralization})
	if err != nil {
		t.Fatalf("anonymize failed: %v", err)
	}
	if got := record.Features["bpm"].Number; got != 70 {
		t.Fatalf("expected 77 floored to 70, got %f", got)
	}
	if got := record.Features["embedding"].Vector[1]; got != 20 {
		t.Fatalf("expected 27 floored to 20, got %f", got)
	}
	note := record.Features["note"].Text
	if !strings.HasSuffix(note, "...") || len(note) != maxStringLength+3 {
		t.Fatalf("expected truncated note, got %q", note)
	}
}

func TestFloorToBinNeverExceedsInput(t *testing.T) {
	for _, v := range []float64{-23.5, -10, -0.1, 0, 0.1, 9.99, 10, 77.7} {
		if got := floorToBin(v, 10); got > v {
			t.Fatalf("floorToBin(%f) = %f exceeds input", v, got)
		}
	}
}

func TestUnknownTechniqueRejected(t *testing.T) {
	a := newTestAnonymizer()
	_, err := a.Anonymize("user-1", sampleData(), Config{Technique: "homomorphic"})
	if err == nil {
		t.Fatalf("expected error for unknown technique")
	}
	if !utils.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMaskSensitiveString(t *testing.T) {
	cases := []struct {
		in     string
		masked bool
	}{
		{"user@example.com", true},
		{"555-123-4567", true},
		{"123-45-6789", true},
		{"just a note", false},
	}
	for _, tc := range cases {
		out := maskSensitiveString(tc.in)
		if tc.masked {
			if !strings.Contains(out, "*") {
				t.Fatalf("expected %q masked, got %q", tc.in, out)
			}
			if out[:2] != tc.in[:2] {
				t.Fatalf("mask should keep first two chars: %q", out)
			}
		} else if out != tc.in {
			t.Fatalf("plain string modified: %q", out)
		}
	}
}

func TestBatchAnonymizePreservesOrder(t *testing.T) {
	a := newTestAnonymizer()
	items := make([]models.BatchAnonymizeItem, 20)
	for i := range items {
		items[i] = models.BatchAnonymizeItem{
			UserID: "user",
			Data: map[string]models.FeatureValue{
				"index": models.Number(float64(i * 10)),
			},
		}
	}
	records, err := a.BatchAnonymize(items, Config{Technique: models.TechniqueKAnonymity, K: 10})
	if err != nil {
		t.Fatalf("batch anonymize failed: %v", err)
	}
	if len(records) != len(items) {
		t.Fatalf("expected %d records, got %d", len(items), len(records))
	}
	for i, record := range records {
		if got := record.Features["index"].Number; got != float64(i*10) {
			t.Fatalf("record %d out of order: index %f", i, got)
		}
	}
}

func TestBatchAnonymizeRejectsBadTechniqueUpFront(t *testing.T) {
	a := newTestAnonymizer()
	records, err := a.BatchAnonymize([]models.BatchAnonymizeItem{{UserID: "u"}}, Config{Technique: "bogus"})
	if err == nil {
		t.Fatalf("expected error for unknown technique")
	}
	if records != nil {
		t.Fatalf("expected no partial output")
	}
}

func TestPseudonymizationRecursesIntoNestedFeatures(t *testing.T) {
	a := newTestAnonymizer()
	data := map[string]models.FeatureValue{
		"context": models.NestedValue(map[string]models.FeatureValue{
			"email":     models.Categorical("nested@example.com"),
			"phone":     models.Categorical("555-0100"),
			"resonance": models.Number(0.5),
			"session": models.NestedValue(map[string]models.FeatureValue{
				"name": models.Categorical("Ada"),
				"turn": models.Number(4),
			}),
		}),
	}

	record, err := a.Anonymize("user-9", data, Config{Technique: models.TechniquePseudonymization})
	if err != nil {
		t.Fatalf("anonymize failed: %v", err)
	}

	nested := record.Features["context"].Nested
	if _, ok := nested["email"]; ok {
		t.Fatalf("nested email identifier leaked")
	}
	if _, ok := nested["phone"]; ok {
		t.Fatalf("nested phone identifier leaked")
	}
	if _, ok := nested["pseudoId"]; ok {
		t.Fatalf("pseudoId must only appear at the top level")
	}
	if nested["resonance"].Number == 0.5 {
		t.Fatalf("nested numeric not perturbed")
	}
	inner := nested["session"].Nested
	if _, ok := inner["name"]; ok {
		t.Fatalf("doubly nested identifier leaked")
	}
	if inner["turn"].Kind != models.FeatureNumeric {
		t.Fatalf("doubly nested numeric lost: %+v", inner["turn"])
	}
}
