package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/traversal"

	"github.com/labstack/echo/v4"
)

func GetNetworkHandler(c echo.Context) error {
	type request struct {
		Node       string   `param:"node" validate:"required"`
		MaxHops    int      `query:"max_hops" validate:"min=0,max=3"`
		Cap        int      `query:"cap" validate:"min=0,max=500"`
		Provenance string   `query:"provenance"`
		Types      []string `query:"type"`
		MinWeight  float64  `query:"min_weight" validate:"min=0"`
	}

	req := request{MaxHops: 1}
	if err := bind(c, "get_network", &req); err != nil {
		return fail(c, err)
	}

	filter := traversal.Filter{Provenance: req.Provenance, MinWeight: req.MinWeight}
	for _, t := range req.Types {
		filter.Types = append(filter.Types, common.EdgeType(t))
	}

	network, err := appOf(c).Traversal.GetNetwork(c.Request().Context(), traversal.Request{
		Start:   common.NodeID(req.Node),
		MaxHops: req.MaxHops,
		Cap:     req.Cap,
		Filter:  filter,
	})
	if err != nil {
		return fail(c, err)
	}
	if network.Status == traversal.StatusNotFound {
		return c.JSON(http.StatusNotFound, network)
	}
	return c.JSON(http.StatusOK, network)
}
