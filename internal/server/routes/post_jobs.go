package routes

import (
	"github.com/OFFIS-RIT/kinship/internal/queue"
	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/graph"
	"github.com/OFFIS-RIT/kinship/pkg/reasoning"

	"github.com/labstack/echo/v4"
)

func PostBuildHandler(c echo.Context) error {
	type request struct {
		Shard     int    `json:"shard" validate:"min=0"`
		Cursor    string `json:"cursor"`
		PageSize  int    `json:"page_size" validate:"min=0"`
		MaxPages  int    `json:"max_pages" validate:"min=0"`
		AllShards bool   `json:"all_shards"`
	}

	req := request{AllShards: true}
	if err := bind(c, "build_graph", &req); err != nil {
		return fail(c, err)
	}

	return enqueue(c, queue.BuildQueue, func(id string) any {
		return queue.BuildMsg{
			Message: queue.Message{CorrelationID: id},
			BuildRequest: graph.BuildRequest{
				Shard:    req.Shard,
				Cursor:   req.Cursor,
				PageSize: req.PageSize,
				MaxPages: req.MaxPages,
			},
			AllShards: req.AllShards,
		}
	})
}

func PostScoresHandler(c echo.Context) error {
	type request struct {
		Kind  string   `param:"kind" validate:"required"`
		Scope []string `json:"scope"`
	}

	var req request
	if err := bind(c, "score_entities", &req); err != nil {
		return fail(c, err)
	}
	kind := common.EntityKind(req.Kind)
	if !kind.Valid() {
		return fail(c, common.InvalidParameter("score_entities", "unknown entity kind %q", req.Kind))
	}

	return enqueue(c, queue.ScoreQueue, func(id string) any {
		return queue.ScoreMsg{Message: queue.Message{CorrelationID: id}, Kind: kind, Scope: req.Scope}
	})
}

func PostCentralityHandler(c echo.Context) error {
	return enqueue(c, queue.CentralityQueue, func(id string) any {
		return queue.CentralityMsg{Message: queue.Message{CorrelationID: id}}
	})
}

func PostCommunitiesHandler(c echo.Context) error {
	type request struct {
		Algorithm     string  `json:"algorithm" validate:"required"`
		Resolution    float64 `json:"resolution" validate:"min=0"`
		MaxIterations int     `json:"max_iterations" validate:"min=0,max=1000"`
		Seed          uint64  `json:"seed"`
	}

	var req request
	if err := bind(c, "detect_communities", &req); err != nil {
		return fail(c, err)
	}
	if _, ok := reasoning.DetectorByName(req.Algorithm); !ok {
		return fail(c, common.InvalidParameter("detect_communities", "unknown algorithm %q, expected one of %v", req.Algorithm, reasoning.Algorithms()))
	}

	return enqueue(c, queue.CommunityQueue, func(id string) any {
		return queue.CommunityMsg{
			Message:   queue.Message{CorrelationID: id},
			Algorithm: req.Algorithm,
			Params: reasoning.DetectParams{
				Resolution:    req.Resolution,
				MaxIterations: req.MaxIterations,
				Seed:          req.Seed,
			},
		}
	})
}

func PostFeaturesHandler(c echo.Context) error {
	return enqueue(c, queue.FeatureQueue, func(id string) any {
		return queue.FeatureMsg{Message: queue.Message{CorrelationID: id}}
	})
}
