package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/lukavetter/vatlens/internal/categorize"
	"github.com/lukavetter/vatlens/internal/config"
	"github.com/lukavetter/vatlens/internal/confidence"
	"github.com/lukavetter/vatlens/internal/docai"
	"github.com/lukavetter/vatlens/internal/engine"
	"github.com/lukavetter/vatlens/internal/extract"
	"github.com/lukavetter/vatlens/internal/fingerprint"
	"github.com/lukavetter/vatlens/internal/governor"
	"github.com/lukavetter/vatlens/internal/learner"
	"github.com/lukavetter/vatlens/internal/model"
	"github.com/lukavetter/vatlens/internal/storage"
	"github.com/lukavetter/vatlens/internal/textextract"
)

// openStorage opens (and migrates) the SQLite database named in the config.
func openStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath, err := config.DatabasePath(viper.GetString("database.path"))
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// buildEngine wires the full pipeline from configuration.
func buildEngine(store *storage.SQLiteStorage) (*engine.Engine, error) {
	client, err := docai.NewClient(docai.Config{
		Provider: viper.GetString("docai.provider"),
		APIKey:   viper.GetString("docai.api_key"),
		BaseURL:  viper.GetString("docai.base_url"),
		Timeout:  viper.GetDuration("docai.timeout"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create document service client: %w", err)
	}

	gov := governor.New(governor.Config{
		RequestsPerMinute: viper.GetInt("governor.requests_per_minute"),
		CostPerMinute:     viper.GetInt("governor.cost_per_minute"),
		QueueCapacity:     viper.GetInt("governor.queue_capacity"),
	}, nil)

	text := textextract.New(nil)

	orchestrator := extract.New(extract.Config{
		Models:           configuredModels(),
		AttemptsPerModel: viper.GetInt("extract.attempts_per_model"),
		CallTimeout:      viper.GetDuration("extract.call_timeout"),
	}, client, gov, text, nil)

	matcher := fingerprint.NewMatcher(fingerprint.Config{
		MatchThreshold:  viper.GetFloat64("fingerprint.match_threshold"),
		CreateThreshold: viper.GetFloat64("fingerprint.create_threshold"),
	}, store, nil)

	categorizer := categorize.New(categorize.Config{})
	scorer := confidence.New(confidence.Config{}, store, nil)

	return engine.New(engine.Deps{
		Orchestrator: orchestrator,
		Matcher:      matcher,
		Categorizer:  categorizer,
		Scorer:       scorer,
		Store:        store,
		Text:         text,
	})
}

// buildLearner wires the feedback learner from configuration.
func buildLearner(store *storage.SQLiteStorage) *learner.Learner {
	return learner.New(learner.Config{
		Alpha:          viper.GetFloat64("learner.alpha"),
		BatchThreshold: viper.GetInt("learner.batch_threshold"),
	}, store, nil)
}

// configuredModels translates the "extract.models" list into model specs.
// All configured models are assumed vision-capable unless suffixed with
// ":text".
func configuredModels() []extract.ModelSpec {
	names := viper.GetStringSlice("extract.models")
	specs := make([]extract.ModelSpec, 0, len(names))
	for _, name := range names {
		spec := extract.ModelSpec{Name: name, Vision: true}
		if base, ok := strings.CutSuffix(name, ":text"); ok {
			spec = extract.ModelSpec{Name: base, Vision: false}
		}
		specs = append(specs, spec)
	}
	return specs
}

// mediaTypes maps the file extensions vatlens accepts to their media types.
var mediaTypes = map[string]string{
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".text": "text/plain",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// detectMediaType infers a media type from a filename extension.
func detectMediaType(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	mediaType, ok := mediaTypes[ext]
	if !ok {
		return "", fmt.Errorf("unsupported file type: %s", ext)
	}
	return mediaType, nil
}

// parseHint validates the --hint flag value.
func parseHint(raw string) (model.CategoryHint, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", string(model.HintUnknown):
		return model.HintUnknown, nil
	case string(model.HintSales):
		return model.HintSales, nil
	case string(model.HintPurchases):
		return model.HintPurchases, nil
	default:
		return "", fmt.Errorf("invalid hint %q (want sales, purchases or unknown)", raw)
	}
}
