package learner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukavetter/vatlens/internal/common"
	"github.com/lukavetter/vatlens/internal/model"
)

func fptr(v float64) *float64 { return &v }

type fakeStore struct {
	calibrations      map[string]model.CalibrationEntry
	corrections       map[string]model.Correction
	templates         map[string]model.Template
	fingerprints      map[string]model.DocumentFingerprint
	suspects          []float64
	saveCorrectionErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		calibrations: make(map[string]model.CalibrationEntry),
		corrections:  make(map[string]model.Correction),
		templates:    make(map[string]model.Template),
		fingerprints: make(map[string]model.DocumentFingerprint),
	}
}

func calKey(docType model.DocumentType, method model.ExtractionMethod) string {
	return fmt.Sprintf("%s|%s", docType, method)
}

func (s *fakeStore) GetCalibration(_ context.Context, docType model.DocumentType, method model.ExtractionMethod) (*model.CalibrationEntry, error) {
	entry, ok := s.calibrations[calKey(docType, method)]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &entry, nil
}

func (s *fakeStore) SaveCalibration(_ context.Context, entry *model.CalibrationEntry) error {
	s.calibrations[calKey(entry.DocType, entry.Method)] = *entry
	return nil
}

func (s *fakeStore) SaveCorrection(_ context.Context, c *model.Correction) error {
	if s.saveCorrectionErr != nil {
		return s.saveCorrectionErr
	}
	s.corrections[c.ID] = *c
	return nil
}

func (s *fakeStore) GetUnconsumedCorrections(_ context.Context) ([]model.Correction, error) {
	var out []model.Correction
	for _, c := range s.corrections {
		if !c.Consumed {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkCorrectionsConsumed(_ context.Context, ids []string) error {
	for _, id := range ids {
		c := s.corrections[id]
		c.Consumed = true
		s.corrections[id] = c
	}
	return nil
}

func (s *fakeStore) GetTemplate(_ context.Context, id string) (*model.Template, error) {
	tmpl, ok := s.templates[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &tmpl, nil
}

func (s *fakeStore) UpdateTemplateStats(_ context.Context, id string, successRate, avgConfidence float64) error {
	tmpl := s.templates[id]
	tmpl.SuccessRate = successRate
	tmpl.AvgConfidence = avgConfidence
	s.templates[id] = tmpl
	return nil
}

func (s *fakeStore) GetFingerprint(_ context.Context, id string) (*model.DocumentFingerprint, error) {
	fp, ok := s.fingerprints[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &fp, nil
}

func (s *fakeStore) UpdateFingerprintStats(_ context.Context, id string, successRate float64) error {
	fp := s.fingerprints[id]
	fp.SuccessRate = successRate
	s.fingerprints[id] = fp
	return nil
}

func (s *fakeStore) GetSuspectAmounts(_ context.Context) ([]float64, error) {
	return append([]float64{}, s.suspects...), nil
}

func (s *fakeStore) SaveSuspectAmounts(_ context.Context, amounts []float64) error {
	s.suspects = amounts
	return nil
}

func correction(outcome model.CorrectionOutcome, confidence float64) *model.Correction {
	return &model.Correction{
		RequestID:          "req-1",
		DocType:            model.DocTypeInvoice,
		Method:             model.MethodVision,
		Outcome:            outcome,
		OriginalConfidence: confidence,
	}
}

func TestSubmitCorrectionValidation(t *testing.T) {
	learner := New(Config{}, newFakeStore(), nil)

	err := learner.SubmitCorrection(context.Background(), correction("MAYBE", 0.8))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrMalformedRequest)
}

func TestSubmitCorrectionFillsIdentity(t *testing.T) {
	store := newFakeStore()
	learner := New(Config{}, store, nil)

	c := correction(model.OutcomeCorrect, 0.8)
	require.NoError(t, learner.SubmitCorrection(context.Background(), c))

	assert.NotEmpty(t, c.ID)
	assert.False(t, c.SubmittedAt.IsZero())
	assert.Contains(t, store.corrections, c.ID)
}

func TestCalibrationEMA(t *testing.T) {
	ctx := context.Background()

	t.Run("first correction creates the entry", func(t *testing.T) {
		store := newFakeStore()
		learner := New(Config{}, store, nil)

		require.NoError(t, learner.SubmitCorrection(ctx, correction(model.OutcomeCorrect, 0.8)))

		entry, err := store.GetCalibration(ctx, model.DocTypeInvoice, model.MethodVision)
		require.NoError(t, err)

		// (1-0.15)*1.0 + 0.15*(1.0/0.8) = 1.0375
		assert.InDelta(t, 1.0375, entry.Factor, 1e-9)
		assert.Equal(t, 1, entry.CorrectionCount)
	})

	t.Run("incorrect pulls the factor down", func(t *testing.T) {
		store := newFakeStore()
		learner := New(Config{}, store, nil)

		require.NoError(t, learner.SubmitCorrection(ctx, correction(model.OutcomeIncorrect, 0.8)))

		entry, err := store.GetCalibration(ctx, model.DocTypeInvoice, model.MethodVision)
		require.NoError(t, err)

		// (1-0.15)*1.0 + 0.15*(0.2/0.8) = 0.8875
		assert.InDelta(t, 0.8875, entry.Factor, 1e-9)
	})

	t.Run("correct never lowers the factor", func(t *testing.T) {
		store := newFakeStore()
		store.calibrations[calKey(model.DocTypeInvoice, model.MethodVision)] = model.CalibrationEntry{
			DocType: model.DocTypeInvoice, Method: model.MethodVision, Factor: 1.8,
		}
		learner := New(Config{}, store, nil)

		require.NoError(t, learner.SubmitCorrection(ctx, correction(model.OutcomeCorrect, 1.0)))

		entry, err := store.GetCalibration(ctx, model.DocTypeInvoice, model.MethodVision)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, entry.Factor, 1.8)
	})

	t.Run("incorrect never raises the factor", func(t *testing.T) {
		store := newFakeStore()
		store.calibrations[calKey(model.DocTypeInvoice, model.MethodVision)] = model.CalibrationEntry{
			DocType: model.DocTypeInvoice, Method: model.MethodVision, Factor: 0.15,
		}
		learner := New(Config{}, store, nil)

		require.NoError(t, learner.SubmitCorrection(ctx, correction(model.OutcomeIncorrect, 1.0)))

		entry, err := store.GetCalibration(ctx, model.DocTypeInvoice, model.MethodVision)
		require.NoError(t, err)
		assert.LessOrEqual(t, entry.Factor, 0.15)
	})

	t.Run("partial accuracy is proportional to the numeric error", func(t *testing.T) {
		store := newFakeStore()
		learner := New(Config{}, store, nil)

		c := correction(model.OutcomePartial, 1.0)
		c.OriginalTotal = fptr(100.00)
		c.CorrectedTotal = fptr(110.00)
		require.NoError(t, learner.SubmitCorrection(ctx, c))

		entry, err := store.GetCalibration(ctx, model.DocTypeInvoice, model.MethodVision)
		require.NoError(t, err)

		// accuracy = 1 - 10/110; factor = 0.85 + 0.15*accuracy
		assert.InDelta(t, 0.85+0.15*(1.0-10.0/110.0), entry.Factor, 1e-9)
	})

	t.Run("zero original confidence does not explode", func(t *testing.T) {
		store := newFakeStore()
		learner := New(Config{}, store, nil)

		require.NoError(t, learner.SubmitCorrection(ctx, correction(model.OutcomeCorrect, 0)))

		entry, err := store.GetCalibration(ctx, model.DocTypeInvoice, model.MethodVision)
		require.NoError(t, err)
		assert.LessOrEqual(t, entry.Factor, 2.0)
	})
}

func TestTemplateAndFingerprintUpdates(t *testing.T) {
	ctx := context.Background()

	store := newFakeStore()
	store.templates["tmpl-1"] = model.Template{
		ID: "tmpl-1", FingerprintID: "fp-1",
		SuccessRate: 0.5, AvgConfidence: 0.9, Active: true,
	}
	store.fingerprints["fp-1"] = model.DocumentFingerprint{ID: "fp-1", SuccessRate: 0.5}
	learner := New(Config{}, store, nil)

	c := correction(model.OutcomeCorrect, 0.8)
	c.TemplateID = "tmpl-1"
	require.NoError(t, learner.SubmitCorrection(ctx, c))

	tmpl := store.templates["tmpl-1"]
	assert.InDelta(t, 0.575, tmpl.SuccessRate, 1e-9)
	assert.InDelta(t, 0.885, tmpl.AvgConfidence, 1e-9)

	fp := store.fingerprints["fp-1"]
	assert.InDelta(t, 0.575, fp.SuccessRate, 1e-9)
}

func TestBatchRederivation(t *testing.T) {
	ctx := context.Background()

	store := newFakeStore()
	learner := New(Config{BatchThreshold: 3}, store, nil)

	for i := 0; i < 3; i++ {
		c := correction(model.OutcomeIncorrect, 0.9)
		c.OriginalTotal = fptr(350.00)
		require.NoError(t, learner.SubmitCorrection(ctx, c))
	}

	// The disproven amount lands on the suspect list exactly once.
	assert.Equal(t, []float64{350.00}, store.suspects)

	pending, err := store.GetUnconsumedCorrections(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Len(t, store.corrections, 3)
}

func TestFailedSaveLeavesLearningStateUntouched(t *testing.T) {
	ctx := context.Background()

	store := newFakeStore()
	store.saveCorrectionErr = errors.New("disk full")
	learner := New(Config{}, store, nil)

	err := learner.SubmitCorrection(ctx, correction(model.OutcomeCorrect, 0.8))
	require.Error(t, err)

	// No correction was recorded, so no calibration may have moved.
	_, err = store.GetCalibration(ctx, model.DocTypeInvoice, model.MethodVision)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Empty(t, store.corrections)
}

func TestBatchMergesIntoSuspectList(t *testing.T) {
	ctx := context.Background()

	store := newFakeStore()
	store.suspects = []float64{12.50}
	learner := New(Config{BatchThreshold: 2}, store, nil)

	for i := 0; i < 2; i++ {
		c := correction(model.OutcomeIncorrect, 0.9)
		c.OriginalTotal = fptr(350.00)
		require.NoError(t, learner.SubmitCorrection(ctx, c))
	}

	// Newly disproven amounts join the stored list; earlier ones survive.
	assert.ElementsMatch(t, []float64{12.50, 350.00}, store.suspects)
}

func TestBatchNotTriggeredEarly(t *testing.T) {
	ctx := context.Background()

	store := newFakeStore()
	learner := New(Config{BatchThreshold: 3}, store, nil)

	for i := 0; i < 2; i++ {
		c := correction(model.OutcomeIncorrect, 0.9)
		c.OriginalTotal = fptr(350.00)
		require.NoError(t, learner.SubmitCorrection(ctx, c))
	}

	assert.Empty(t, store.suspects)

	pending, err := store.GetUnconsumedCorrections(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
