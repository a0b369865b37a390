package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/urmzd/zgw/pkg/api/types"
	"github.com/urmzd/zgw/pkg/automation"
	"github.com/urmzd/zgw/pkg/db"
)

// AutomationsHandler handles automation CRUD endpoints (§4.5, §4.6): every
// write compiles the authoring document to a GWAR binary with
// pkg/automation before storing it, so a bad document is rejected at the
// API boundary rather than at the next Rules Engine reload.
type AutomationsHandler struct {
	store    db.AutomationStore
	profile  int64
	onChange func()
}

// NewAutomationsHandler creates a handler backed by store for the given
// profile. onChange, if non-nil, is called after every write so the
// composition root can reload the live Rules Engine.
func NewAutomationsHandler(store db.AutomationStore, profileID int64, onChange func()) *AutomationsHandler {
	return &AutomationsHandler{store: store, profile: profileID, onChange: onChange}
}

func toAutomationResponse(a *db.Automation) types.AutomationResponse {
	return types.AutomationResponse{
		ID:        a.ID,
		Name:      a.Name,
		Enabled:   a.Enabled,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// ListAutomations handles GET /automations
// @Summary      List all automations
// @Description  Returns every automation stored for the active profile
// @Tags         automations
// @Produce      json
// @Success      200  {object}  types.ListAutomationsResponse
// @Failure      500  {object}  types.ErrorResponse
// @Router       /automations [get]
func (h *AutomationsHandler) ListAutomations(c *gin.Context) {
	autos, err := h.store.ListByProfile(c.Request.Context(), h.profile)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "store_error", Message: err.Error()})
		return
	}
	out := make([]types.AutomationResponse, 0, len(autos))
	for _, a := range autos {
		out = append(out, toAutomationResponse(a))
	}
	c.JSON(http.StatusOK, types.ListAutomationsResponse{Automations: out, Count: len(out)})
}

// GetAutomation handles GET /automations/:id
// @Summary      Get an automation
// @Tags         automations
// @Produce      json
// @Param        id   path      string  true  "Automation ID"
// @Success      200  {object}  types.AutomationResponse
// @Failure      404  {object}  types.ErrorResponse
// @Router       /automations/{id} [get]
func (h *AutomationsHandler) GetAutomation(c *gin.Context) {
	a, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAutomationResponse(a))
}

// CreateAutomation handles POST /automations
// @Summary      Create an automation
// @Description  Compiles the authoring document to a GWAR binary and persists it
// @Tags         automations
// @Accept       json
// @Produce      json
// @Param        automation  body      types.CreateAutomationRequest  true  "Automation document"
// @Success      201  {object}  types.AutomationResponse
// @Failure      400  {object}  types.ErrorResponse  "Invalid or uncompilable document"
// @Router       /automations [post]
func (h *AutomationsHandler) CreateAutomation(c *gin.Context) {
	var req types.CreateAutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	sourceJSON, err := json.Marshal(req.Source)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "invalid_request", Message: "source must be a JSON object"})
		return
	}
	sourceCBOR, err := cbor.Marshal(req.Source)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "invalid_request", Message: "source must be a CBOR-encodable object"})
		return
	}
	compiled, err := automation.CompileCBOR(sourceCBOR)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "compile_error", Message: err.Error()})
		return
	}
	compiledBin, err := compiled.Serialize()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "compile_error", Message: err.Error()})
		return
	}

	a := &db.Automation{
		ID:        uuid.NewString(),
		ProfileID: h.profile,
		Name:      req.Name,
		Enabled:   true,
		SourceDoc: sourceJSON,
		Compiled:  compiledBin,
	}
	if err := h.store.Create(c.Request.Context(), a); err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "store_error", Message: err.Error()})
		return
	}

	h.notify()
	c.JSON(http.StatusCreated, toAutomationResponse(a))
}

// UpdateAutomation handles PUT /automations/:id
// @Summary      Replace an automation's document
// @Tags         automations
// @Accept       json
// @Produce      json
// @Param        id          path      string                          true  "Automation ID"
// @Param        automation  body      types.CreateAutomationRequest  true  "Automation document"
// @Success      200  {object}  types.AutomationResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      404  {object}  types.ErrorResponse
// @Router       /automations/{id} [put]
func (h *AutomationsHandler) UpdateAutomation(c *gin.Context) {
	id := c.Param("id")
	existing, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}

	var req types.CreateAutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	sourceJSON, err := json.Marshal(req.Source)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "invalid_request", Message: "source must be a JSON object"})
		return
	}
	sourceCBOR, err := cbor.Marshal(req.Source)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "invalid_request", Message: "source must be a CBOR-encodable object"})
		return
	}
	compiled, err := automation.CompileCBOR(sourceCBOR)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "compile_error", Message: err.Error()})
		return
	}
	compiledBin, err := compiled.Serialize()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "compile_error", Message: err.Error()})
		return
	}

	existing.Name = req.Name
	existing.SourceDoc = sourceJSON
	existing.Compiled = compiledBin
	if err := h.store.Update(c.Request.Context(), existing); err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "store_error", Message: err.Error()})
		return
	}

	h.notify()
	c.JSON(http.StatusOK, toAutomationResponse(existing))
}

// SetAutomationEnabled handles PATCH /automations/:id/enabled
// @Summary      Enable or disable an automation
// @Tags         automations
// @Accept       json
// @Param        id      path  string                               true  "Automation ID"
// @Param        enabled  body  types.SetAutomationEnabledRequest  true  "Desired enabled state"
// @Success      204
// @Failure      404  {object}  types.ErrorResponse
// @Router       /automations/{id}/enabled [patch]
func (h *AutomationsHandler) SetAutomationEnabled(c *gin.Context) {
	var req types.SetAutomationEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := h.store.SetEnabled(c.Request.Context(), c.Param("id"), req.Enabled); err != nil {
		h.writeStoreError(c, err)
		return
	}
	h.notify()
	c.Status(http.StatusNoContent)
}

// DeleteAutomation handles DELETE /automations/:id
// @Summary      Delete an automation
// @Tags         automations
// @Param        id   path  string  true  "Automation ID"
// @Success      204
// @Failure      404  {object}  types.ErrorResponse
// @Router       /automations/{id} [delete]
func (h *AutomationsHandler) DeleteAutomation(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeStoreError(c, err)
		return
	}
	h.notify()
	c.Status(http.StatusNoContent)
}

func (h *AutomationsHandler) notify() {
	if h.onChange != nil {
		h.onChange()
	}
}

func (h *AutomationsHandler) writeStoreError(c *gin.Context, err error) {
	if errors.Is(err, db.ErrAutomationNotFound) {
		c.JSON(http.StatusNotFound, types.ErrorResponse{Error: "not_found", Message: "automation not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "store_error", Message: err.Error()})
}
