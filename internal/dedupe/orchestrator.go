package dedupe

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/DeafMist/civic-radar/internal/failure"
	"github.com/DeafMist/civic-radar/internal/models"
	"github.com/DeafMist/civic-radar/internal/processing"
	"github.com/DeafMist/civic-radar/internal/similarity"
)

// Store is the subset of the content store the detector needs.
type Store interface {
	// GetByHash returns nil, nil when no item carries the hash.
	GetByHash(ctx context.Context, hash string) (*models.ContentItem, error)
	// QueryWindow returns at most limit of the most recent items created at or
	// after since, ordered by CreatedAt ascending.
	QueryWindow(ctx context.Context, since time.Time, limit int) ([]models.ContentItem, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
	ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	SetContentHash(ctx context.Context, id, hash string) error
}

// Gateway finds semantically close items. Errors are treated as "no result".
type Gateway interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	FindSimilar(ctx context.Context, vector []float32, threshold float64, maxResults int) ([]models.SimilarItem, error)
	FindSimilarText(ctx context.Context, text string, threshold float64, maxResults int) ([]models.SimilarItem, error)
}

// Options tunes the detector. Zero values fall back to the defaults below.
type Options struct {
	PreviewLength      int
	MaxCandidates      int
	// ScreenCandidates bounds the recent items Screen compares against. Each
	// comparison is a Levenshtein pass over two previews.
	ScreenCandidates   int
	ScreenWindow       time.Duration
	ScreenThreshold    float64
	SemanticThreshold  float64
	SemanticMaxResults int
	SemanticTimeout    time.Duration
	StoreTimeout       time.Duration
	BatchDeleteSize    int
	BatchDeleteDelay   time.Duration
	// Cache is the optional seen-hash fast path used by Screen.
	Cache *Cache
}

func (o *Options) applyDefaults() {
	if o.PreviewLength <= 0 {
		o.PreviewLength = similarity.DefaultPreviewLength
	}
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = 5000
	}
	if o.ScreenCandidates <= 0 {
		o.ScreenCandidates = 500
	}
	if o.ScreenWindow <= 0 {
		o.ScreenWindow = 72 * time.Hour
	}
	if o.ScreenThreshold <= 0 {
		o.ScreenThreshold = 0.9
	}
	if o.SemanticMaxResults <= 0 {
		o.SemanticMaxResults = 5
	}
	if o.SemanticTimeout <= 0 {
		o.SemanticTimeout = 10 * time.Second
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 10 * time.Second
	}
	if o.BatchDeleteSize <= 0 {
		o.BatchDeleteSize = 50
	}
}

// Detector runs the exact, fuzzy and semantic duplicate tiers.
type Detector struct {
	store   Store
	gateway Gateway
	opts    Options
	matcher similarity.Matcher
	limiter *rate.Limiter
	log     zerolog.Logger
	now     func() time.Time
}

// New builds a detector. gateway may be nil to disable the semantic tier.
func New(store Store, gateway Gateway, opts Options, log zerolog.Logger) *Detector {
	opts.applyDefaults()
	limit := rate.Inf
	if opts.BatchDeleteDelay > 0 {
		limit = rate.Every(opts.BatchDeleteDelay)
	}
	return &Detector{
		store:   store,
		gateway: gateway,
		opts:    opts,
		matcher: similarity.Matcher{PreviewLength: opts.PreviewLength},
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
		now:     time.Now,
	}
}

// CheckExact looks up an item with the same content hash.
func (d *Detector) CheckExact(ctx context.Context, item models.ContentItem) (string, bool, error) {
	_, hash, err := fingerprint(item)
	if err != nil {
		return "", false, err
	}
	ctx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
	defer cancel()

	existing, err := d.store.GetByHash(ctx, hash)
	if err != nil {
		return "", false, fmt.Errorf("lookup hash: %w: %v", failure.ErrTransientIO, err)
	}
	if existing == nil || existing.ID == item.ID {
		return "", false, nil
	}
	return existing.ID, true, nil
}

// FindFuzzyDuplicates scans candidates pairwise in creation order. The earlier
// item of a matching pair is the original; a matched duplicate takes no
// further part in the scan.
func (d *Detector) FindFuzzyDuplicates(candidates []models.ContentItem, threshold float64) []models.DuplicatePair {
	items := sortedByCreation(candidates)
	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = normalizedText(item)
	}

	duplicate := make([]bool, len(items))
	var pairs []models.DuplicatePair
	for i := range items {
		if duplicate[i] || texts[i] == "" {
			continue
		}
		for j := i + 1; j < len(items); j++ {
			if duplicate[j] || texts[j] == "" {
				continue
			}
			score := d.matcher.Score(texts[i], texts[j])
			if score >= threshold {
				duplicate[j] = true
				pairs = append(pairs, models.DuplicatePair{
					OriginalID:      items[i].ID,
					DuplicateID:     items[j].ID,
					SimilarityScore: score,
					Method:          models.MethodFuzzy,
				})
			}
		}
	}
	return pairs
}

// RunOptions selects the window and mode of a maintenance run.
type RunOptions struct {
	Threshold float64
	DryRun    bool
	Since     time.Time
}

// Result summarises a maintenance run. It is returned even on partial failure.
type Result struct {
	TotalEntries    int                    `json:"total_entries"`
	DuplicatesFound int                    `json:"duplicates_found"`
	Duplicates      []models.DuplicatePair `json:"duplicates"`
	DeletedCount    int64                  `json:"deleted_count"`
	HashesBackfill  int                    `json:"hashes_backfilled"`
	Errors          int                    `json:"errors"`
	Skipped         int                    `json:"skipped"`
	Truncated       bool                   `json:"truncated"`
	DryRun          bool                   `json:"dry_run"`
}

type candidate struct {
	item       models.ContentItem
	normalized string
	hash       string
}

// Run deduplicates the stored window. Only a failed window read is returned
// as an error; every other failure is logged and counted in the result.
func (d *Detector) Run(ctx context.Context, opts RunOptions) (Result, error) {
	res := Result{DryRun: opts.DryRun}
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		return res, fmt.Errorf("threshold %.2f outside (0,1]: %w", opts.Threshold, failure.ErrConfig)
	}

	readCtx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
	items, err := d.store.QueryWindow(readCtx, opts.Since, d.opts.MaxCandidates)
	cancel()
	if err != nil {
		return res, fmt.Errorf("query window: %w: %v", failure.ErrTransientIO, err)
	}
	res.TotalEntries = len(items)
	if len(items) >= d.opts.MaxCandidates {
		res.Truncated = true
		d.log.Warn().Int("max_candidates", d.opts.MaxCandidates).Msg("candidate window truncated")
	}

	items = sortedByCreation(items)
	var candidates []candidate
	for _, item := range items {
		normalized, hash, err := fingerprint(item)
		if err != nil {
			d.log.Warn().Str("id", item.ID).Err(err).Msg("skip item")
			res.Skipped++
			res.Errors++
			continue
		}
		candidates = append(candidates, candidate{item: item, normalized: normalized, hash: hash})
	}

	// Exact tier: first item per hash survives.
	firstByHash := make(map[string]string, len(candidates))
	var survivors []candidate
	for _, c := range candidates {
		if original, ok := firstByHash[c.hash]; ok {
			res.Duplicates = append(res.Duplicates, models.DuplicatePair{
				OriginalID:      original,
				DuplicateID:     c.item.ID,
				SimilarityScore: 1,
				Method:          models.MethodExact,
			})
			continue
		}
		firstByHash[c.hash] = c.item.ID
		survivors = append(survivors, c)
	}

	// Fuzzy tier over hash-group survivors.
	fuzzyInput := make([]models.ContentItem, len(survivors))
	for i, c := range survivors {
		fuzzyInput[i] = c.item
		fuzzyInput[i].NormalizedContent = c.normalized
	}
	fuzzy := d.FindFuzzyDuplicates(fuzzyInput, opts.Threshold)
	res.Duplicates = append(res.Duplicates, fuzzy...)

	removed := make(map[string]struct{}, len(res.Duplicates))
	for _, p := range res.Duplicates {
		removed[p.DuplicateID] = struct{}{}
	}
	survivors = filterRemoved(survivors, removed)

	semantic := d.semanticTier(ctx, survivors)
	for _, p := range semantic {
		removed[p.DuplicateID] = struct{}{}
	}
	res.Duplicates = append(res.Duplicates, semantic...)
	survivors = filterRemoved(survivors, removed)
	res.DuplicatesFound = len(res.Duplicates)

	d.log.Info().
		Int("total", res.TotalEntries).
		Int("duplicates", res.DuplicatesFound).
		Int("semantic", len(semantic)).
		Bool("dry_run", opts.DryRun).
		Msg("duplicate scan finished")

	if opts.DryRun {
		return res, nil
	}

	deleted, failed := d.deletePairs(ctx, res.Duplicates)
	res.DeletedCount = deleted
	res.Errors += failed

	for _, c := range survivors {
		if c.item.ContentHash == c.hash {
			continue
		}
		setCtx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
		err := d.store.SetContentHash(setCtx, c.item.ID, c.hash)
		cancel()
		if err != nil {
			d.log.Warn().Str("id", c.item.ID).Err(err).Msg("backfill hash")
			res.Errors++
			continue
		}
		res.HashesBackfill++
	}
	return res, nil
}

// semanticTier asks the gateway about every surviving item and pairs it with
// the earliest earlier survivor the gateway returns.
func (d *Detector) semanticTier(ctx context.Context, survivors []candidate) []models.DuplicatePair {
	if d.gateway == nil || d.opts.SemanticThreshold <= 0 {
		return nil
	}
	index := make(map[string]int, len(survivors))
	for i, c := range survivors {
		index[c.item.ID] = i
	}

	matched := make([]bool, len(survivors))
	var pairs []models.DuplicatePair
	for i, c := range survivors {
		if ctx.Err() != nil {
			break
		}
		if matched[i] {
			continue
		}
		hits := d.findSemantic(ctx, c.item.ID, c.normalized)
		best := -1
		var score float64
		for _, hit := range hits {
			j, ok := index[hit.ID]
			if !ok || j >= i || matched[j] || hit.SimilarityScore < d.opts.SemanticThreshold {
				continue
			}
			if best == -1 || j < best {
				best, score = j, hit.SimilarityScore
			}
		}
		if best == -1 {
			continue
		}
		matched[i] = true
		pairs = append(pairs, models.DuplicatePair{
			OriginalID:      survivors[best].item.ID,
			DuplicateID:     c.item.ID,
			SimilarityScore: score,
			Method:          models.MethodSemantic,
		})
	}
	return pairs
}

func (d *Detector) findSemantic(ctx context.Context, id, text string) []models.SimilarItem {
	ctx, cancel := context.WithTimeout(ctx, d.opts.SemanticTimeout)
	defer cancel()

	hits, err := d.gateway.FindSimilarText(ctx, text, d.opts.SemanticThreshold, d.opts.SemanticMaxResults)
	if err != nil {
		d.log.Warn().Str("id", id).Err(err).Msg("semantic lookup failed")
		return nil
	}
	return hits
}

// deletePairs removes duplicates batch by batch. Before each batch it checks
// that both sides of every pair still exist so a concurrently removed
// original never takes its duplicate with it.
func (d *Detector) deletePairs(ctx context.Context, pairs []models.DuplicatePair) (int64, int) {
	var deleted int64
	failed := 0
	for start := 0; start < len(pairs); start += d.opts.BatchDeleteSize {
		end := start + d.opts.BatchDeleteSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batch := pairs[start:end]

		if err := d.limiter.Wait(ctx); err != nil {
			d.log.Warn().Err(err).Int("remaining", len(pairs)-start).Msg("deletion interrupted")
			failed++
			break
		}

		n, err := d.deleteBatch(ctx, batch)
		if err != nil {
			d.log.Error().Err(err).Int("batch_start", start).Int("batch_size", len(batch)).Msg("delete batch failed")
			failed++
			continue
		}
		deleted += n
		d.log.Debug().Int64("deleted", n).Int("batch_start", start).Msg("batch deleted")
	}
	return deleted, failed
}

func (d *Detector) deleteBatch(ctx context.Context, batch []models.DuplicatePair) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
	defer cancel()

	ids := make([]string, 0, len(batch)*2)
	for _, p := range batch {
		ids = append(ids, p.OriginalID, p.DuplicateID)
	}
	existing, err := d.store.ExistingIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("revalidate batch: %w: %v", failure.ErrTransientIO, err)
	}

	var victims []string
	for _, p := range batch {
		_, origOK := existing[p.OriginalID]
		_, dupOK := existing[p.DuplicateID]
		if !origOK || !dupOK {
			d.log.Info().Str("original_id", p.OriginalID).Str("duplicate_id", p.DuplicateID).Msg("pair changed since scan, skipped")
			continue
		}
		victims = append(victims, p.DuplicateID)
	}
	if len(victims) == 0 {
		return 0, nil
	}
	n, err := d.store.DeleteByIDs(ctx, victims)
	if err != nil {
		return 0, fmt.Errorf("delete duplicates: %w: %v", failure.ErrTransientIO, err)
	}
	return n, nil
}

// Verdict is the outcome of screening one incoming item.
type Verdict struct {
	Duplicate       bool                   `json:"duplicate"`
	Method          models.DuplicateMethod `json:"method,omitempty"`
	OriginalID      string                 `json:"original_id,omitempty"`
	SimilarityScore float64                `json:"similarity_score,omitempty"`
	Hash            string                 `json:"hash"`
	Normalized      string                 `json:"-"`
	// Vector is the embedding computed by the semantic tier, if it ran.
	Vector          []float32              `json:"-"`
}

// Screen checks an incoming item against the seen cache, the stored hashes,
// recent stored items and finally the vector gateway. Only items created no
// later than the incoming one count as its original; an item with no
// CreatedAt is taken to arrive now.
func (d *Detector) Screen(ctx context.Context, item models.ContentItem) (Verdict, error) {
	normalized, hash, err := fingerprint(item)
	if err != nil {
		return Verdict{}, err
	}
	v := Verdict{Hash: hash, Normalized: normalized}

	if d.opts.Cache != nil && d.opts.Cache.IsSeen(hash) {
		v.Duplicate, v.Method, v.SimilarityScore = true, models.MethodExact, 1
		return v, nil
	}

	item.NormalizedContent, item.ContentHash = normalized, hash
	if id, found, err := d.CheckExact(ctx, item); err != nil {
		return v, err
	} else if found {
		v.Duplicate, v.Method, v.OriginalID, v.SimilarityScore = true, models.MethodExact, id, 1
		return v, nil
	}

	arrived := item.CreatedAt
	if arrived.IsZero() {
		arrived = d.now()
	}

	readCtx, cancel := context.WithTimeout(ctx, d.opts.StoreTimeout)
	recent, err := d.store.QueryWindow(readCtx, d.now().Add(-d.opts.ScreenWindow), d.opts.ScreenCandidates)
	cancel()
	if err != nil {
		return v, fmt.Errorf("query recent: %w: %v", failure.ErrTransientIO, err)
	}

	for _, other := range sortedByCreation(recent) {
		if other.ID == item.ID || other.CreatedAt.After(arrived) {
			continue
		}
		otherNorm := normalizedText(other)
		if otherNorm == "" {
			continue
		}
		score := d.matcher.Score(normalized, otherNorm)
		if score >= d.opts.ScreenThreshold && score > v.SimilarityScore {
			v.Duplicate, v.Method, v.OriginalID, v.SimilarityScore = true, models.MethodFuzzy, other.ID, score
		}
	}
	if v.Duplicate {
		return v, nil
	}

	if d.gateway != nil && d.opts.SemanticThreshold > 0 {
		hits, vector := d.screenSemantic(ctx, item.ID, normalized)
		v.Vector = vector
		for _, hit := range hits {
			if hit.ID == item.ID || hit.SimilarityScore < d.opts.SemanticThreshold || hit.CreatedAt.After(arrived) {
				continue
			}
			if hit.SimilarityScore > v.SimilarityScore {
				v.Duplicate, v.Method, v.OriginalID, v.SimilarityScore = true, models.MethodSemantic, hit.ID, hit.SimilarityScore
			}
		}
	}
	return v, nil
}

// screenSemantic embeds text once and returns the neighbours together with
// the vector so the caller can reuse it.
func (d *Detector) screenSemantic(ctx context.Context, id, text string) ([]models.SimilarItem, []float32) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.SemanticTimeout)
	defer cancel()

	vector, err := d.gateway.Embed(ctx, text)
	if err != nil {
		d.log.Warn().Str("id", id).Err(err).Msg("embedding failed")
		return nil, nil
	}
	hits, err := d.gateway.FindSimilar(ctx, vector, d.opts.SemanticThreshold, d.opts.SemanticMaxResults)
	if err != nil {
		d.log.Warn().Str("id", id).Err(err).Msg("semantic lookup failed")
		return nil, vector
	}
	return hits, vector
}

// MarkAccepted records a committed hash in the seen cache.
func (d *Detector) MarkAccepted(hash string) {
	if d.opts.Cache != nil {
		d.opts.Cache.MarkSeen(hash)
	}
}

// ErrEmptyContent is returned for items whose normalized content is empty.
var ErrEmptyContent = fmt.Errorf("empty normalized content: %w", failure.ErrData)

func normalizedText(item models.ContentItem) string {
	if item.NormalizedContent != "" {
		return item.NormalizedContent
	}
	return processing.Normalize(item.RawContent)
}

func fingerprint(item models.ContentItem) (string, string, error) {
	normalized := normalizedText(item)
	if normalized == "" {
		return "", "", ErrEmptyContent
	}
	return normalized, processing.ContentHash(normalized), nil
}

func sortedByCreation(items []models.ContentItem) []models.ContentItem {
	out := make([]models.ContentItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func filterRemoved(in []candidate, removed map[string]struct{}) []candidate {
	out := in[:0:0]
	for _, c := range in {
		if _, ok := removed[c.item.ID]; !ok {
			out = append(out, c)
		}
	}
	return out
}
