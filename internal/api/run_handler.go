package api

import (
	"bytes"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"gorisk/app"
	"gorisk/domain/core"
	"gorisk/domain/scenario"
	"gorisk/internal/errors"
	"gorisk/internal/report"
)

const (
	maxScenarioBytes = 1 << 20
	defaultListLimit = 50
	xlsxContentType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// RunHandler serves scenario runs over HTTP.
type RunHandler struct {
	service *app.SimulationService
}

// NewRunHandler creates a new run handler
func NewRunHandler(service *app.SimulationService) *RunHandler {
	return &RunHandler{service: service}
}

// RunSimulation runs the Monte Carlo section of the posted scenario.
func (h *RunHandler) RunSimulation(c *gin.Context) {
	sc, ok := h.bindScenario(c)
	if !ok {
		return
	}
	run, err := h.service.RunSimulation(c.Request.Context(), sc)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

// RunMCMC runs the MCMC section of the posted scenario.
func (h *RunHandler) RunMCMC(c *gin.Context) {
	sc, ok := h.bindScenario(c)
	if !ok {
		return
	}
	run, err := h.service.RunMCMC(c.Request.Context(), sc)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

// bindScenario reads a YAML or JSON scenario from the request body. YAML is
// chosen by a yaml content type, JSON otherwise.
func (h *RunHandler) bindScenario(c *gin.Context) (*scenario.Scenario, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxScenarioBytes)
	data, err := c.GetRawData()
	if err != nil {
		respondError(c, errors.InvalidInput("failed to read request body: "+err.Error()))
		return nil, false
	}
	format := scenario.FormatJSON
	if strings.Contains(c.ContentType(), "yaml") {
		format = scenario.FormatYAML
	}
	sc, err := scenario.Parse(data, format)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return sc, true
}

// ListRuns returns the most recent runs, newest first.
func (h *RunHandler) ListRuns(c *gin.Context) {
	limit := defaultListLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(c, errors.InvalidInput("limit must be a positive integer"))
			return
		}
		limit = n
	}
	runs, err := h.service.ListRuns(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// GetRun returns a stored run of either kind.
func (h *RunHandler) GetRun(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	run, err := h.service.LoadRun(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// GetDiagnostics returns the stored diagnostics of an MCMC run.
func (h *RunHandler) GetDiagnostics(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	_, diag, err := h.service.GetMCMC(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if diag == nil {
		respondError(c, core.NewNotFoundError("diagnostics", id.String()))
		return
	}
	c.JSON(http.StatusOK, diag)
}

// Sensitivity ranks the parameters driving each output of a Monte Carlo run.
func (h *RunHandler) Sensitivity(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	sens, err := h.service.Sensitivity(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sens)
}

// Rediagnose recomputes and stores the diagnostics of an MCMC run.
func (h *RunHandler) Rediagnose(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	diag, err := h.service.DiagnoseRun(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, diag)
}

// DiagnoseRequest is either a set of stored Monte Carlo runs to compare as
// chains, or raw chains indexed chain × draw × parameter.
type DiagnoseRequest struct {
	RunIDs []core.RunID  `json:"run_ids"`
	Names  []string      `json:"names"`
	Chains [][][]float64 `json:"chains"`
}

// Diagnose computes convergence diagnostics without storing them.
func (h *RunHandler) Diagnose(c *gin.Context) {
	var req DiagnoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.InvalidInput("invalid diagnose request: "+err.Error()))
		return
	}
	switch {
	case len(req.RunIDs) > 0 && len(req.Chains) > 0:
		respondError(c, errors.InvalidInput("send either run_ids or chains, not both"))
	case len(req.RunIDs) > 0:
		diag, err := h.service.DiagnoseSimulations(c.Request.Context(), req.RunIDs)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, diag)
	default:
		diag, err := h.service.DiagnoseChains(req.Names, req.Chains)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, diag)
	}
}

// Export returns a stored run as an xlsx workbook.
func (h *RunHandler) Export(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.service.Export(c.Request.Context(), id, &buf); err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="run-`+id.String()+`.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// Report renders a stored run. The format query parameter selects markdown
// (default) or html.
func (h *RunHandler) Report(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	format, err := report.ParseFormat(c.Query("format"))
	if err != nil {
		respondError(c, errors.InvalidInput(err.Error()))
		return
	}
	body, err := h.service.Report(c.Request.Context(), id, format)
	if err != nil {
		respondError(c, err)
		return
	}
	contentType := "text/markdown; charset=utf-8"
	if format == report.FormatHTML {
		contentType = "text/html; charset=utf-8"
	}
	c.Data(http.StatusOK, contentType, body)
}

// Evaluators lists the built-in risk functions and log densities.
func (h *RunHandler) Evaluators(c *gin.Context) {
	risk, densities := h.service.Evaluators()
	c.JSON(http.StatusOK, gin.H{"risk_functions": risk, "log_densities": densities})
}

func runID(c *gin.Context) (core.RunID, bool) {
	id, err := core.ParseRunID(c.Param("id"))
	if err != nil {
		respondError(c, errors.InvalidInput(err.Error()))
		return "", false
	}
	return id, true
}

// respondError writes err as a JSON error body with the status its code maps to.
func respondError(c *gin.Context, err error) {
	var appErr *errors.AppError
	if !stderrors.As(errors.FromDomain(err), &appErr) {
		appErr = errors.InternalError(err.Error())
	}
	status := errors.HTTPStatus(appErr.Code)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": appErr.Code})
}
