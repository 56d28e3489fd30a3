package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/OFFIS-RIT/kinship/internal/services"
	"github.com/OFFIS-RIT/kinship/internal/timing"
	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/db"
	"github.com/OFFIS-RIT/kinship/pkg/graph"
	"github.com/OFFIS-RIT/kinship/pkg/logger"
	"github.com/OFFIS-RIT/kinship/pkg/reasoning"

	"github.com/spf13/cobra"
)

var (
	migrationsDir string

	buildShard    int
	buildAll      bool
	buildMaxPages int
	buildCursor   string

	scoreScope []string

	communityAlgorithm string
	communityParams    reasoning.DetectParams

	connectorMin   float64
	connectorLimit int

	rootCmd = &cobra.Command{
		Use:          "graphctl",
		Short:        "Operate the relationship graph from the command line",
		SilenceUsage: true,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE:  runMigrate,
	}
	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Advance the graph build and publish the generation once every shard is done",
		RunE:  runBuild,
	}
	scoreCmd = &cobra.Command{
		Use:       "score [repo|developer]",
		Short:     "Recompute importance scores for one entity kind",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(common.EntityRepository), string(common.EntityDeveloper)},
		RunE:      runScore,
	}
	centralityCmd = &cobra.Command{
		Use:   "centrality",
		Short: "Compute betweenness centrality and reachability over the active generation",
		RunE:  runCentrality,
	}
	communitiesCmd = &cobra.Command{
		Use:   "communities",
		Short: "Detect communities over the active generation",
		RunE:  runCommunities,
	}
	featuresCmd = &cobra.Command{
		Use:   "features",
		Short: "Recompute the feature vectors used for similarity",
		RunE:  runFeatures,
	}
	connectorsCmd = &cobra.Command{
		Use:   "connectors",
		Short: "List key connectors from the latest centrality run",
		RunE:  runConnectors,
	}
)

func init() {
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "migrations", "directory holding the migration files")

	buildCmd.Flags().IntVar(&buildShard, "shard", 0, "shard to advance")
	buildCmd.Flags().BoolVar(&buildAll, "all", true, "advance every shard")
	buildCmd.Flags().IntVar(&buildMaxPages, "max-pages", 0, "pages to process per shard, 0 runs to completion")
	buildCmd.Flags().StringVar(&buildCursor, "cursor", "", "replace the persisted cursor of --shard")

	scoreCmd.Flags().StringSliceVar(&scoreScope, "scope", nil, "restrict scoring to these ids")

	communitiesCmd.Flags().StringVar(&communityAlgorithm, "algorithm", reasoning.AlgorithmLouvain, fmt.Sprintf("one of %v", reasoning.Algorithms()))
	communitiesCmd.Flags().Float64Var(&communityParams.Resolution, "resolution", 0, "modularity resolution, 0 uses the configured default")
	communitiesCmd.Flags().IntVar(&communityParams.MaxIterations, "max-iterations", 0, "iteration limit, 0 uses the configured default")
	communitiesCmd.Flags().Uint64Var(&communityParams.Seed, "seed", 0, "random seed, 0 uses the configured default")

	connectorsCmd.Flags().Float64Var(&connectorMin, "min", 0, "minimum centrality")
	connectorsCmd.Flags().IntVar(&connectorLimit, "limit", 10, "number of connectors")

	rootCmd.AddCommand(migrateCmd, buildCmd, scoreCmd, centralityCmd, communitiesCmd, featuresCmd, connectorsCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withServices opens the services for one command and closes them after.
func withServices(cmd *cobra.Command, fn func(ctx context.Context, svc *services.Services) (any, error)) error {
	ctx := cmd.Context()
	svc, err := services.Open(ctx, services.ConfigFromEnv())
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := fn(ctx, svc)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

// timed logs the predicted duration of kind before fn and records the
// actual one after it.
func timed(ctx context.Context, svc *services.Services, kind string, units int64, fn func() error) error {
	if eta, err := timing.PredictRunDuration(ctx, svc.Pool, kind, units); err == nil && eta > 0 {
		logger.Info("[Graphctl] Estimated duration", "kind", kind, "eta", eta.Round(time.Second).String())
	}
	started := time.Now()
	if err := fn(); err != nil {
		return err
	}
	if err := timing.AddRunDuration(ctx, svc.Pool, kind, units, time.Since(started)); err != nil {
		logger.Warn("[Graphctl] Failed to record run duration", "kind", kind, "err", err)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := services.ConfigFromEnv()
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	return db.Migrate(cfg.DatabaseURL, migrationsDir)
}

func runBuild(cmd *cobra.Command, args []string) error {
	return withServices(cmd, func(ctx context.Context, svc *services.Services) (any, error) {
		req := graph.BuildRequest{Shard: buildShard, Cursor: buildCursor, MaxPages: buildMaxPages}
		if buildAll {
			return svc.Builder.RunShards(ctx, req)
		}
		return svc.Builder.Run(ctx, req)
	})
}

func runScore(cmd *cobra.Command, args []string) error {
	kind := common.EntityKind(args[0])
	return withServices(cmd, func(ctx context.Context, svc *services.Services) (any, error) {
		return svc.Scoring.ScoreEntities(ctx, kind, scoreScope)
	})
}

func runCentrality(cmd *cobra.Command, args []string) error {
	return withServices(cmd, func(ctx context.Context, svc *services.Services) (any, error) {
		snap, err := svc.Snapshots.Get(ctx)
		if err != nil {
			return nil, err
		}
		params, err := svc.Scoring.ChooseStrategy(snap.Len(), snap.EdgeCount())
		if err != nil {
			return nil, err
		}

		var res any
		err = timed(ctx, svc, "centrality_"+string(params.Strategy), int64(snap.EdgeCount()), func() error {
			r, err := svc.Scoring.ComputeCentrality(ctx)
			res = r
			return err
		})
		return res, err
	})
}

func runCommunities(cmd *cobra.Command, args []string) error {
	return withServices(cmd, func(ctx context.Context, svc *services.Services) (any, error) {
		gen, err := svc.Store.ActiveGeneration(ctx)
		if err != nil {
			return nil, err
		}

		var res any
		err = timed(ctx, svc, "communities_"+communityAlgorithm, gen.EdgeCount, func() error {
			r, err := svc.Reasoning.DetectCommunities(ctx, communityAlgorithm, communityParams)
			res = r
			return err
		})
		return res, err
	})
}

func runFeatures(cmd *cobra.Command, args []string) error {
	return withServices(cmd, func(ctx context.Context, svc *services.Services) (any, error) {
		return svc.Reasoning.RefreshFeatures(ctx)
	})
}

func runConnectors(cmd *cobra.Command, args []string) error {
	return withServices(cmd, func(ctx context.Context, svc *services.Services) (any, error) {
		return svc.Scoring.KeyConnectors(ctx, connectorMin, connectorLimit)
	})
}
