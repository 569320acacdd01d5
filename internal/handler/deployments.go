package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Tiger66639/juju-gui-charm/internal/model"
	"github.com/Tiger66639/juju-gui-charm/internal/repository"
	"github.com/Tiger66639/juju-gui-charm/internal/response"
)

// DeploymentHandler serves the bundle deployment history over REST.
type DeploymentHandler struct {
	Repo *repository.DeploymentRepository
}

type deploymentResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Requester   string `json:"requester"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func toDeploymentResponse(dep model.Deployment) deploymentResponse {
	out := deploymentResponse{
		ID:        dep.ID.String(),
		Name:      dep.Name,
		Requester: dep.Requester,
		Status:    string(dep.Status),
		Error:     dep.Error,
		CreatedAt: dep.CreatedAt.Format(time.RFC3339),
	}
	if dep.CompletedAt != nil {
		out.CompletedAt = dep.CompletedAt.Format(time.RFC3339)
	}
	return out
}

// List returns all recorded deployments (GET /deployments).
func (h *DeploymentHandler) List(c echo.Context) error {
	list, err := h.Repo.List(c.Request().Context())
	if err != nil {
		return response.InternalError(c, "list deployments failed", err.Error())
	}
	out := make([]deploymentResponse, 0, len(list))
	for _, dep := range list {
		out = append(out, toDeploymentResponse(dep))
	}
	return response.OK(c, map[string]any{"deployments": out}, "")
}

// Get returns one deployment by id (GET /deployments/:id).
func (h *DeploymentHandler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return response.BadRequest(c, "invalid deployment id", err.Error())
	}
	dep, err := h.Repo.GetByID(c.Request().Context(), id)
	if err != nil {
		return response.InternalError(c, "get deployment failed", err.Error())
	}
	if dep == nil {
		return response.NotFound(c, "deployment not found", id.String())
	}
	return response.OK(c, toDeploymentResponse(*dep), "")
}
