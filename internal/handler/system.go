package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/voxqueue/tts/internal/service"
	"github.com/voxqueue/tts/pkg/response"
)

type SystemHandler struct {
	service *service.SynthesisService
	name    string
	version string
}

func NewSystemHandler(svc *service.SynthesisService, name, version string) *SystemHandler {
	return &SystemHandler{
		service: svc,
		name:    name,
		version: version,
	}
}

// Root handles GET /
func (h *SystemHandler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"name":    h.name,
		"version": h.version,
		"health":  "/health",
	})
}

// Health handles GET /health
// @Summary      Health check
// @Description  Queue depth per tier, live workers and rolling generation metrics
// @Tags         System
// @Produce      json
// @Success      200 {object} model.HealthResponse
// @Failure      503 {object} response.ErrorResponse
// @Router       /health [get]
func (h *SystemHandler) Health(c *fiber.Ctx) error {
	result, err := h.service.Health(c.Context())
	if err != nil {
		if errors.Is(err, service.ErrBrokerUnavailable) {
			return response.Error(c, fiber.StatusServiceUnavailable, response.CodeBrokerUnavailable,
				"Job broker is unavailable", fiber.Map{"status": "unhealthy"})
		}
		return writeServiceError(c, err)
	}

	return response.OK(c, result)
}

// Voices handles GET /voices
// @Summary      Voice catalog
// @Description  Accepted values for every voice selector and quality tier
// @Tags         System
// @Produce      json
// @Success      200 {object} model.VoicesResponse
// @Router       /voices [get]
func (h *SystemHandler) Voices(c *fiber.Ctx) error {
	return response.OK(c, h.service.ListVoices())
}
