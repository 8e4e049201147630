package timeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/medsim/scenario/internal/platform/middleware"
)

const mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc      *Service
	resolver *Resolver
}

func NewHandler(svc *Service, resolver *Resolver) *Handler {
	return &Handler{svc: svc, resolver: resolver}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/scenarios/:scenario")

	g.GET("/timeline", h.GetTimeline)
	g.PUT("/timeline", h.SaveTimeline)
	g.GET("/timeline/consistency", h.CheckConsistency)
	g.GET("/timeline/workbook", h.ExportWorkbook)
	g.PUT("/timeline/workbook", h.ImportWorkbook)

	g.PUT("/timeline/nodes/:node/action", h.SetAction)
	g.PUT("/timeline/nodes/:node/parent-role", h.SetParentRole)
	g.PUT("/timeline/nodes/:node/details", h.SetAdditionalDetails)
	g.PUT("/timeline/nodes/:node/branches", h.SetBranchTargets)
	g.PUT("/timeline/nodes/:node/timer", h.SetTimer)
	g.DELETE("/timeline/nodes/:node", h.DeleteNode)

	g.GET("/baseline", h.GetBaseline)
	g.PUT("/baseline", h.SaveBaseline)
	g.POST("/vitals", h.ApplyVital)

	g.GET("/parameters", h.ListParameters)
	g.POST("/parameters", h.AddParameter)
	g.DELETE("/parameters", h.DeleteParameter)
}

// apiError maps domain errors to HTTP responses.
func apiError(err error) error {
	var ve *ValidationError
	var se *StorageError
	switch {
	case errors.As(err, &ve):
		return &middleware.ErrorResponse{
			StatusCode: http.StatusBadRequest,
			Code:       middleware.CodeValidationError,
			Message:    "validation failed",
			Details:    ve.Fields,
		}
	case errors.Is(err, ErrNotFound):
		return middleware.NewErrorResponse(http.StatusNotFound, err.Error())
	case errors.As(err, &se):
		return &middleware.ErrorResponse{
			StatusCode: http.StatusInternalServerError,
			Code:       middleware.CodeStorageError,
			Message:    se.Error(),
		}
	}
	return err
}

func badRequest(msg string) error {
	return middleware.NewErrorResponse(http.StatusBadRequest, msg)
}

func pathInt(c echo.Context, name string) (int, error) {
	n, err := strconv.Atoi(c.Param(name))
	if err != nil {
		return 0, badRequest("invalid " + name)
	}
	return n, nil
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return BaselineNodeID, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid " + name)
	}
	return n, nil
}

func scenarioAndNode(c echo.Context) (int, int, error) {
	scenarioID, err := pathInt(c, "scenario")
	if err != nil {
		return 0, 0, err
	}
	nodeID, err := pathInt(c, "node")
	if err != nil {
		return 0, 0, err
	}
	return scenarioID, nodeID, nil
}

type changedResponse struct {
	Changed bool `json:"changed"`
}

// -- timeline --

type timelineResponse struct {
	ScenarioID int       `json:"scenario_id"`
	Baseline   *Baseline `json:"baseline,omitempty"`
	Nodes      []Node    `json:"nodes"`
}

func (h *Handler) GetTimeline(c echo.Context) error {
	scenarioID, err := pathInt(c, "scenario")
	if err != nil {
		return err
	}
	g, err := h.svc.GetGraph(c.Request().Context(), scenarioID)
	if err != nil {
		return apiError(err)
	}
	nodes := g.Timeline()
	if nodes == nil {
		nodes = []Node{}
	}
	return c.JSON(http.StatusOK, timelineResponse{ScenarioID: scenarioID, Baseline: g.Baseline, Nodes: nodes})
}

type saveTimelineRequest struct {
	Nodes []Node `json:"nodes"`
}

func (h *Handler) SaveTimeline(c echo.Context) error {
	scenarioID, err := pathInt(c, "scenario")
	if err != nil {
		return err
	}
	var req saveTimelineRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}
	if err := h.svc.SaveTimeline(c.Request().Context(), scenarioID, req.Nodes); err != nil {
		return apiError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CheckConsistency(c echo.Context) error {
	scenarioID, err := pathInt(c, "scenario")
	if err != nil {
		return err
	}
	refs, err := h.svc.CheckConsistency(c.Request().Context(), scenarioID)
	if err != nil {
		return apiError(err)
	}
	if refs == nil {
		refs = []DanglingReference{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"consistent": len(refs) == 0,
		"dangling":   refs,
	})
}

func (h *Handler) ExportWorkbook(c echo.Context) error {
	scenarioID, err := pathInt(c, "scenario")
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := h.svc.ExportWorkbook(c.Request().Context(), scenarioID, &buf); err != nil {
		return apiError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=scenario-%d-timeline.xlsx", scenarioID))
	return c.Blob(http.StatusOK, mimeXLSX, buf.Bytes())
}

func (h *Handler) ImportWorkbook(c echo.Context) error {
	scenarioID, err := pathInt(c, "scenario")
	if err != nil {
		return err
	}
	wb, err := h.svc.ImportWorkbook(c.Request().Context(), scenarioID, c.Request().Body)
	if err != nil {
		return apiError(err)
	}
	params := len(wb.BaselineParameters)
	for _, n := range wb.Nodes {
		params += len(n.Parameters)
	}
	return c.JSON(http.StatusOK, map[string]int{"nodes": len(wb.Nodes), "parameters": params})
}

// -- node mutators --

type textRequest struct {
	Text string `json:"text"`
}

type textSetter func(ctx context.Context, scenarioID, nodeID int, text string) (bool, error)

func (h *Handler) setText(c echo.Context, set textSetter) error {
	scenarioID, nodeID, err := scenarioAndNode(c)
	if err != nil {
		return err
	}
	var req textRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}
	changed, err := set(c.Request().Context(), scenarioID, nodeID, req.Text)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, changedResponse{Changed: changed})
}

func (h *Handler) SetAction(c echo.Context) error {
	return h.setText(c, h.svc.SetAction)
}

func (h *Handler) SetParentRole(c echo.Context) error {
	return h.setText(c, h.svc.SetParentRole)
}

func (h *Handler) SetAdditionalDetails(c echo.Context) error {
	return h.setText(c, h.svc.SetAdditionalDetails)
}

type branchesRequest struct {
	OnSuccess int `json:"on_success"`
	OnFailure int `json:"on_failure"`
}

func (h *Handler) SetBranchTargets(c echo.Context) error {
	scenarioID, nodeID, err := scenarioAndNode(c)
	if err != nil {
		return err
	}
	var req branchesRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}
	changed, err := h.svc.SetBranchTargets(c.Request().Context(), scenarioID, nodeID, req.OnSuccess, req.OnFailure)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, changedResponse{Changed: changed})
}

type timerRequest struct {
	Seconds int `json:"seconds"`
}

func (h *Handler) SetTimer(c echo.Context) error {
	scenarioID, nodeID, err := scenarioAndNode(c)
	if err != nil {
		return err
	}
	var req timerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}
	changed, err := h.svc.SetTimer(c.Request().Context(), scenarioID, nodeID, req.Seconds)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, changedResponse{Changed: changed})
}

func (h *Handler) DeleteNode(c echo.Context) error {
	scenarioID, nodeID, err := scenarioAndNode(c)
	if err != nil {
		return err
	}
	changed, err := h.svc.DeleteNode(c.Request().Context(), scenarioID, nodeID)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, changedResponse{Changed: changed})
}

// -- baseline --

func (h *Handler) GetBaseline(c echo.Context) error {
	scenarioID, err := pathInt(c, "scenario")
	if err != nil {
		return err
	}
	b, err := h.svc.GetBaseline(c.Request().Context(), scenarioID)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) SaveBaseline(c echo.Context) error {
	scenarioID, err := pathInt(c, "scenario")
	if err != nil {
		return err
	}
	var b Baseline
	if err := c.Bind(&b); err != nil {
		return badRequest(err.Error())
	}
	b.ScenarioID = scenarioID
	if err := h.svc.SaveBaseline(c.Request().Context(), &b); err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, b)
}

type vitalRequest struct {
	NodeID *int   `json:"node_id"`
	Label  string `json:"label"`
	Value  string `json:"value"`
}

func (h *Handler) ApplyVital(c echo.Context) error {
	scenarioID, err := pathInt(c, "scenario")
	if err != nil {
		return err
	}
	var req vitalRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}
	out, err := h.resolver.Apply(c.Request().Context(), scenarioID, req.NodeID, req.Label, req.Value)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// -- additional parameters --

func (h *Handler) ListParameters(c echo.Context) error {
	scenarioID, err := pathInt(c, "scenario")
	if err != nil {
		return err
	}
	nodeID, err := queryInt(c, "node")
	if err != nil {
		return err
	}
	items, err := h.svc.ListParameters(c.Request().Context(), scenarioID, nodeID)
	if err != nil {
		return apiError(err)
	}
	if items == nil {
		items = []Parameter{}
	}
	return c.JSON(http.StatusOK, items)
}

type parameterRequest struct {
	NodeID *int    `json:"node_id"`
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Unit   string  `json:"unit"`
}

func (h *Handler) AddParameter(c echo.Context) error {
	scenarioID, err := pathInt(c, "scenario")
	if err != nil {
		return err
	}
	var req parameterRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err.Error())
	}
	p := &Parameter{Name: req.Name, Value: req.Value, Unit: req.Unit}
	if err := h.svc.AddParameter(c.Request().Context(), scenarioID, req.NodeID, p); err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) DeleteParameter(c echo.Context) error {
	scenarioID, err := pathInt(c, "scenario")
	if err != nil {
		return err
	}
	nodeID, err := queryInt(c, "node")
	if err != nil {
		return err
	}
	changed, err := h.svc.DeleteParameter(c.Request().Context(), scenarioID, nodeID, c.QueryParam("name"))
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, changedResponse{Changed: changed})
}
