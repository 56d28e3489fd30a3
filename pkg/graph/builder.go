// Package graph derives the relationship graph from employment and
// contribution records and provides immutable in-memory snapshots of the
// published graph for the analytical services.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kinship/internal/util"
	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/leaselock"
	"github.com/OFFIS-RIT/kinship/pkg/logger"
	"github.com/OFFIS-RIT/kinship/pkg/metrics"
	"github.com/OFFIS-RIT/kinship/pkg/store"

	"github.com/cespare/xxhash/v2"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("graph.builder")

// CachePrefixes are invalidated after every publish.
var CachePrefixes = []string{"network:", "paths:", "similar:", "connectors:"}

// Store is the persistence the builder needs.
type Store interface {
	store.SourceReader
	store.EdgeStore
}

// Invalidator drops cached results derived from an older generation.
type Invalidator interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

type Options struct {
	// Shards is the number of disjoint builder shards per generation.
	Shards int
	// PageSize is the number of unit ids listed per page.
	PageSize int

	// AsOf is the clock open-ended stints and recency decay are measured
	// against. The zero value uses the day the generation was opened, so a
	// resumed build keeps deriving the same weights. Rebuilds only produce
	// identical edge sets for the same AsOf; pin it to compare generations.
	AsOf                   time.Time
	WeightFloor            float64
	LookbackDays           int
	HalfLifeDays           float64
	MaxContributorsPerRepo int

	// UnitsPerSecond paces reads of the source tables. Zero is unlimited.
	UnitsPerSecond float64

	CommitBackoff util.Backoff
	Lease         leaselock.Options
}

func DefaultOptions() Options {
	return Options{
		Shards:                 1,
		PageSize:               100,
		WeightFloor:            0.01,
		LookbackDays:           730,
		HalfLifeDays:           180,
		MaxContributorsPerRepo: 200,
		CommitBackoff:          util.DefaultBackoff,
		Lease:                  leaselock.Options{TTL: 5 * time.Minute},
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.Shards <= 0 {
		o.Shards = d.Shards
	}
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	if o.WeightFloor < 0 {
		o.WeightFloor = 0
	}
	if o.LookbackDays <= 0 {
		o.LookbackDays = d.LookbackDays
	}
	if o.HalfLifeDays <= 0 {
		o.HalfLifeDays = d.HalfLifeDays
	}
	if o.MaxContributorsPerRepo <= 0 {
		o.MaxContributorsPerRepo = d.MaxContributorsPerRepo
	}
	if o.CommitBackoff.Tries <= 0 {
		o.CommitBackoff = d.CommitBackoff
	}
}

// BuildRequest selects the shard to advance. An empty Cursor resumes from
// the persisted job cursor; a non-empty one replaces it. MaxPages bounds the
// work of one call, zero runs the shard to completion.
type BuildRequest struct {
	Shard    int    `json:"shard"`
	Cursor   string `json:"cursor,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
	MaxPages int    `json:"max_pages,omitempty"`
}

type BuildResult struct {
	Shard          int    `json:"shard"`
	Generation     int64  `json:"generation"`
	EdgesWritten   int64  `json:"edges_written"`
	UnitsProcessed int64  `json:"units_processed"`
	Skipped        int64  `json:"skipped"`
	NextCursor     string `json:"next_cursor"`
	Done           bool   `json:"done"`
	Published      bool   `json:"published"`
	PublishedEdges int64  `json:"published_edges,omitempty"`
}

// Builder writes edge contributions unit by unit into the building
// generation and publishes it once every shard has completed.
type Builder struct {
	store   Store
	locker  leaselock.Locker
	cache   Invalidator
	opts    Options
	limiter *rate.Limiter
	now     func() time.Time
}

// NewBuilder returns a builder. cache may be nil.
func NewBuilder(s Store, locker leaselock.Locker, cache Invalidator, opts Options) *Builder {
	opts.applyDefaults()
	b := &Builder{
		store:  s,
		locker: locker,
		cache:  cache,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if opts.UnitsPerSecond > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(opts.UnitsPerSecond), 1)
	}
	return b
}

func (b *Builder) Options() Options { return b.opts }

// ShardOf returns the shard owning a unit.
func ShardOf(provenance string, shards int) int {
	if shards <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(provenance) % uint64(shards))
}

func nextPhase(p common.Phase) common.Phase {
	switch p {
	case common.PhaseEmployment:
		return common.PhaseCollaboration
	default:
		return common.PhaseDone
	}
}

func provenanceOf(phase common.Phase, id string) string {
	if phase == common.PhaseEmployment {
		return CompanyProvenance(id)
	}
	return RepositoryProvenance(id)
}

// Run advances one shard of the building generation while holding the
// shard lease.
func (b *Builder) Run(ctx context.Context, req BuildRequest) (BuildResult, error) {
	if req.Shard < 0 || req.Shard >= b.opts.Shards {
		return BuildResult{}, common.InvalidParameter("build", "shard %d out of range [0,%d)", req.Shard, b.opts.Shards)
	}
	var override *common.Cursor
	if req.Cursor != "" {
		c, err := common.ParseCursor(req.Cursor)
		if err != nil {
			return BuildResult{}, common.InvalidParameter("build", "%v", err)
		}
		override = &c
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = b.opts.PageSize
	}

	ctx, span := tracer.Start(ctx, "graph.Builder.Run",
		trace.WithAttributes(
			attribute.Int("shard", req.Shard),
			attribute.Int("shards", b.opts.Shards),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	var res BuildResult
	key := fmt.Sprintf("graph-builder:%d", req.Shard)
	err := b.locker.WithLease(ctx, key, b.opts.Lease, func(ctx context.Context) error {
		var err error
		res, err = b.runShard(ctx, req.Shard, override, pageSize, req.MaxPages)
		return err
	})
	if err != nil {
		if errors.Is(err, leaselock.ErrBusy) {
			err = fmt.Errorf("shard %d is held by another builder: %w", req.Shard, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	span.SetAttributes(
		attribute.Int64("generation", res.Generation),
		attribute.Int64("edges_written", res.EdgesWritten),
		attribute.Int64("units_processed", res.UnitsProcessed),
		attribute.Bool("published", res.Published),
	)
	return res, nil
}

// RunShards runs every shard concurrently to completion.
func (b *Builder) RunShards(ctx context.Context, req BuildRequest) ([]BuildResult, error) {
	results := make([]BuildResult, b.opts.Shards)
	g, gCtx := errgroup.WithContext(ctx)
	for shard := range b.opts.Shards {
		g.Go(func() error {
			r := req
			r.Shard = shard
			res, err := b.Run(gCtx, r)
			results[shard] = res
			return err
		})
	}
	err := g.Wait()
	return results, err
}

func (b *Builder) loadJob(ctx context.Context, gen common.Generation, shard int) (common.BuildJob, error) {
	job, err := b.store.GetJob(ctx, gen.ID, shard)
	if err != nil {
		return common.BuildJob{}, fmt.Errorf("failed to load job: %w", err)
	}
	if job != nil {
		return *job, nil
	}
	id, err := gonanoid.New()
	if err != nil {
		return common.BuildJob{}, fmt.Errorf("failed to generate job id: %w", err)
	}
	return common.BuildJob{
		ID:         id,
		Shard:      shard,
		Shards:     gen.Shards,
		Generation: gen.ID,
		State:      common.JobIdle,
	}, nil
}

func (b *Builder) deriveParams(gen common.Generation) DeriveParams {
	asOf := b.opts.AsOf
	if asOf.IsZero() {
		asOf = gen.CreatedAt.UTC().Truncate(day)
	}
	return DeriveParams{
		AsOf:                   asOf,
		WeightFloor:            b.opts.WeightFloor,
		LookbackDays:           b.opts.LookbackDays,
		HalfLifeDays:           b.opts.HalfLifeDays,
		MaxContributorsPerRepo: b.opts.MaxContributorsPerRepo,
	}
}

func (b *Builder) runShard(ctx context.Context, shard int, override *common.Cursor, pageSize, maxPages int) (BuildResult, error) {
	gen, err := b.store.OpenGeneration(ctx, b.opts.Shards)
	if err != nil {
		return BuildResult{}, fmt.Errorf("failed to open generation: %w", err)
	}
	if gen.Shards != b.opts.Shards {
		return BuildResult{}, common.InvalidParameter("build",
			"generation %d is split into %d shards, builder uses %d", gen.ID, gen.Shards, b.opts.Shards)
	}
	res := BuildResult{Shard: shard, Generation: gen.ID}

	job, err := b.loadJob(ctx, gen, shard)
	if err != nil {
		return res, err
	}
	if job.State == common.JobCompleted {
		res.Done = true
		res.NextCursor = job.Cursor.String()
		return b.publish(ctx, gen, res)
	}

	if override != nil {
		job.Cursor = *override
	}
	if err := job.Transition(common.JobRunning); err != nil {
		return res, err
	}
	job.Error = ""
	job.UpdatedAt = b.now()
	if err := b.store.SaveJob(ctx, job); err != nil {
		return res, fmt.Errorf("failed to start job: %w", err)
	}
	logger.Debug("[Builder] Shard started", "generation", gen.ID, "shard", shard, "cursor", job.Cursor.String())

	params := b.deriveParams(gen)
	pages := 0
	for {
		job.Cursor = job.Cursor.Normalize()
		if job.Cursor.Phase == common.PhaseDone {
			break
		}
		if maxPages > 0 && pages >= maxPages {
			break
		}
		if job.State == common.JobCheckpointed {
			if err := job.Transition(common.JobRunning); err != nil {
				return res, err
			}
		}

		ids, err := b.listUnits(ctx, job.Cursor, pageSize)
		if err != nil {
			return b.fail(ctx, job, res, fmt.Errorf("failed to list units: %w", err))
		}
		for _, id := range ids {
			if ShardOf(provenanceOf(job.Cursor.Phase, id), b.opts.Shards) != shard {
				continue
			}
			if err := b.processUnit(ctx, &job, &res, params, id); err != nil {
				return b.fail(ctx, job, res, err)
			}
		}

		if len(ids) < pageSize {
			job.Cursor = common.Cursor{Phase: nextPhase(job.Cursor.Phase)}
		} else {
			job.Cursor.After = ids[len(ids)-1]
		}
		if err := job.Transition(common.JobCheckpointed); err != nil {
			return res, err
		}
		job.UpdatedAt = b.now()
		if err := b.store.SaveJob(ctx, job); err != nil {
			return b.fail(ctx, job, res, fmt.Errorf("failed to checkpoint job: %w", err))
		}
		pages++
	}

	res.NextCursor = job.Cursor.String()
	if job.Cursor.Phase != common.PhaseDone {
		return res, nil
	}

	if err := job.Transition(common.JobCompleted); err != nil {
		return res, err
	}
	job.UpdatedAt = b.now()
	if err := b.store.SaveJob(ctx, job); err != nil {
		return res, fmt.Errorf("failed to complete job: %w", err)
	}
	res.Done = true
	logger.Info("[Builder] Shard completed",
		"generation", gen.ID, "shard", shard, "units", job.UnitsProcessed, "contributions", job.EdgesWritten, "skipped", job.Skipped)

	return b.publish(ctx, gen, res)
}

func (b *Builder) listUnits(ctx context.Context, cursor common.Cursor, limit int) ([]string, error) {
	switch cursor.Phase {
	case common.PhaseEmployment:
		return b.store.ListCompanies(ctx, cursor.After, limit)
	case common.PhaseCollaboration:
		return b.store.ListRepositories(ctx, cursor.After, limit)
	default:
		return nil, nil
	}
}

// processUnit derives and commits one company or repository. The job only
// advances once the commit succeeded.
func (b *Builder) processUnit(ctx context.Context, job *common.BuildJob, res *BuildResult, params DeriveParams, id string) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	phase := job.Cursor.Phase
	provenance := provenanceOf(phase, id)
	var contributions []common.EdgeContribution
	var skipped int
	switch phase {
	case common.PhaseEmployment:
		records, err := b.store.EmploymentsForCompany(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read employments of %s: %w", id, err)
		}
		contributions, skipped = CoEmployment(id, records, params)
	case common.PhaseCollaboration:
		records, err := b.store.ContributionsForRepository(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read contributions of %s: %w", id, err)
		}
		contributions, skipped = Collaboration(id, records, params)
	}

	next := *job
	next.Cursor = common.Cursor{Phase: phase, After: id}
	next.EdgesWritten += int64(len(contributions))
	next.UnitsProcessed++
	next.Skipped += int64(skipped)
	next.UpdatedAt = b.now()

	attempt := 0
	err := util.RetryErrWithBackoff(ctx, b.opts.CommitBackoff, common.Retryable, func(ctx context.Context) error {
		if attempt > 0 {
			metrics.BuilderCommitRetries.Inc()
			logger.Warn("[Builder] Retrying unit commit", "unit", provenance, "attempt", attempt+1)
		}
		attempt++
		return b.store.CommitUnit(ctx, next, provenance, contributions)
	})
	if err != nil {
		metrics.BuilderUnits.WithLabelValues(string(phase), "failed").Inc()
		return fmt.Errorf("failed to commit unit %s: %w", provenance, err)
	}
	metrics.BuilderUnits.WithLabelValues(string(phase), "committed").Inc()
	metrics.BuilderContributions.Add(float64(len(contributions)))

	*job = next
	res.EdgesWritten += int64(len(contributions))
	res.UnitsProcessed++
	res.Skipped += int64(skipped)
	return nil
}

// fail records the error on the job. The cursor is the last committed one.
func (b *Builder) fail(ctx context.Context, job common.BuildJob, res BuildResult, cause error) (BuildResult, error) {
	res.NextCursor = job.Cursor.String()
	if err := job.Transition(common.JobFailed); err != nil {
		return res, errors.Join(cause, err)
	}
	job.Error = cause.Error()
	job.UpdatedAt = b.now()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := b.store.SaveJob(saveCtx, job); err != nil {
		logger.Warn("[Builder] Failed to record job failure", "job", job.ID, "err", err)
	}
	logger.Error("[Builder] Shard failed", "generation", job.Generation, "shard", job.Shard, "cursor", res.NextCursor, "err", cause)
	return res, cause
}

func (b *Builder) publish(ctx context.Context, gen common.Generation, res BuildResult) (BuildResult, error) {
	edges, published, err := b.store.PublishGeneration(ctx, gen.ID)
	if errors.Is(err, store.ErrNotReady) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("failed to publish generation %d: %w", gen.ID, err)
	}
	res.PublishedEdges = edges
	if !published {
		return res, nil
	}

	res.Published = true
	metrics.GenerationsPublished.Inc()
	logger.Info("[Builder] Generation published", "generation", gen.ID, "edges", edges)
	b.invalidate(ctx)
	return res, nil
}

func (b *Builder) invalidate(ctx context.Context) {
	if b.cache == nil {
		return
	}
	for _, prefix := range CachePrefixes {
		if err := b.cache.DeletePrefix(ctx, prefix); err != nil {
			logger.Warn("[Builder] Failed to invalidate cache", "prefix", prefix, "err", err)
		}
	}
}
