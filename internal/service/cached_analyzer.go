package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Strob0t/contractreview/internal/port/analyzer"
	"github.com/Strob0t/contractreview/internal/port/cache"
)

// CachedAnalyzer reuses results for identical contract text. Only
// successful results are cached; cache failures fall through to the
// wrapped analyzer.
type CachedAnalyzer struct {
	inner analyzer.Analyzer
	cache cache.Cache
	ttl   time.Duration
	model string
}

// NewCachedAnalyzer wraps inner. model is mixed into the cache key so a
// model change invalidates earlier results.
func NewCachedAnalyzer(inner analyzer.Analyzer, c cache.Cache, ttl time.Duration, model string) *CachedAnalyzer {
	return &CachedAnalyzer{inner: inner, cache: c, ttl: ttl, model: model}
}

// Analyze returns a cached result or delegates to the wrapped analyzer.
func (a *CachedAnalyzer) Analyze(ctx context.Context, req analyzer.Request) (json.RawMessage, error) {
	key := a.key(req.Text)

	if data, ok, err := a.cache.Get(ctx, key); err != nil {
		slog.WarnContext(ctx, "analysis cache get failed", "error", err)
	} else if ok && json.Valid(data) {
		slog.DebugContext(ctx, "analysis cache hit")
		return rebind(data, req.TaskID), nil
	}

	result, err := a.inner.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}
	if ctx.Err() == nil {
		if err := a.cache.Set(ctx, key, result, a.ttl); err != nil {
			slog.WarnContext(ctx, "analysis cache set failed", "error", err)
		}
	}
	return result, nil
}

func (a *CachedAnalyzer) key(text string) string {
	sum := sha256.Sum256([]byte(a.model + "\x00" + text))
	return "analysis." + hex.EncodeToString(sum[:])
}

// rebind points a cached result's contract_id at the requesting task.
func rebind(data json.RawMessage, taskID string) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return data
	}
	if _, ok := fields["contract_id"]; !ok {
		return data
	}
	id, _ := json.Marshal(taskID)
	fields["contract_id"] = id
	out, err := json.Marshal(fields)
	if err != nil {
		return data
	}
	return out
}
