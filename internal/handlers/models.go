package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/sider-gateway/internal/models"
	"github.com/mihaisavezi/sider-gateway/internal/types"
)

type ModelsHandler struct {
	logger *slog.Logger
}

func NewModelsHandler(logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{logger: logger}
}

func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, models.All())
}

func (h *ModelsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	model, ok := models.Lookup(id)
	if !ok {
		writeJSON(w, h.logger, http.StatusNotFound, types.ErrorResponse{
			Type: "error",
			Error: types.ErrorBody{
				Type:    ErrTypeInvalidRequest,
				Message: fmt.Sprintf("The model '%s' does not exist", id),
				Param:   "model",
				Code:    "model_not_found",
			},
		})
		return
	}

	writeJSON(w, h.logger, http.StatusOK, model)
}
