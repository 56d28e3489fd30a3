package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/reasoning"

	"github.com/labstack/echo/v4"
)

func GetConnectorsHandler(c echo.Context) error {
	type request struct {
		MinCentrality float64 `query:"min_centrality" validate:"min=0"`
		Limit         int     `query:"limit" validate:"min=0,max=100"`
	}

	var req request
	if err := bind(c, "key_connectors", &req); err != nil {
		return fail(c, err)
	}

	connectors, err := appOf(c).Scoring.KeyConnectors(c.Request().Context(), req.MinCentrality, req.Limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"connectors": connectors})
}

func GetSimilarHandler(c echo.Context) error {
	type request struct {
		Node string `param:"node" validate:"required"`
		TopK int    `query:"top_k" validate:"min=0,max=100"`
	}

	var req request
	if err := bind(c, "similar_nodes", &req); err != nil {
		return fail(c, err)
	}

	similar, err := appOf(c).Reasoning.SimilarNodes(c.Request().Context(), common.NodeID(req.Node), req.TopK)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"node": req.Node, "similar": similar})
}

func GetLatestCommunitiesHandler(c echo.Context) error {
	res, err := appOf(c).Reasoning.LatestCommunities(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func GetPathsHandler(c echo.Context) error {
	type request struct {
		ConceptA  string `query:"concept_a" validate:"required"`
		ConceptB  string `query:"concept_b" validate:"required"`
		MaxLength int    `query:"max_length" validate:"min=1,max=6"`
		Count     int    `query:"count" validate:"min=1,max=50"`
		Seed      uint64 `query:"seed"`
	}

	req := request{MaxLength: 4, Count: 5}
	if err := bind(c, "sample_paths", &req); err != nil {
		return fail(c, err)
	}

	paths, err := appOf(c).Reasoning.SamplePaths(c.Request().Context(), reasoning.PathRequest{
		ConceptA:  req.ConceptA,
		ConceptB:  req.ConceptB,
		MaxLength: req.MaxLength,
		Count:     req.Count,
		Seed:      req.Seed,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"paths": paths})
}
