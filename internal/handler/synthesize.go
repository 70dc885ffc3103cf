package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/voxqueue/tts/internal/model"
	"github.com/voxqueue/tts/internal/service"
	"github.com/voxqueue/tts/pkg/response"
)

type SynthesizeHandler struct {
	service *service.SynthesisService
}

func NewSynthesizeHandler(svc *service.SynthesisService) *SynthesizeHandler {
	return &SynthesizeHandler{service: svc}
}

// Synthesize handles POST /synthesize
// @Summary      Synthesize speech
// @Description  Queue a synthesis job and wait for the finished WAV
// @Tags         Synthesis
// @Accept       json
// @Produce      audio/wav
// @Param        request body model.SynthesizeRequest true "Synthesis request"
// @Success      200 {file} binary
// @Failure      400 {object} response.ErrorResponse
// @Failure      408 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Router       /synthesize [post]
func (h *SynthesizeHandler) Synthesize(c *fiber.Ctx) error {
	var req model.SynthesizeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	result, err := h.service.SubmitSync(c.Context(), &req)
	if err != nil {
		return writeServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, "audio/wav")
	c.Set("X-Job-Id", result.JobID)
	c.Set("X-Generation-Time", formatSeconds(result.GenerationTime))
	c.Set("X-Audio-Duration", formatSeconds(result.AudioDuration))
	c.Set("X-Queue-Wait-Time", formatSeconds(result.QueueWait))
	c.Set("X-Queue-Position", strconv.Itoa(result.QueuePosition))
	return c.Send(result.Audio)
}

// SynthesizeAsync handles POST /synthesize/async
// @Summary      Submit synthesis job
// @Description  Queue a synthesis job and return its handle immediately
// @Tags         Synthesis
// @Accept       json
// @Produce      json
// @Param        request body model.SynthesizeRequest true "Synthesis request"
// @Success      202 {object} model.SynthesizeAsyncResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Router       /synthesize/async [post]
func (h *SynthesizeHandler) SynthesizeAsync(c *fiber.Ctx) error {
	var req model.SynthesizeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	result, err := h.service.SubmitAsync(c.Context(), &req)
	if err != nil {
		return writeServiceError(c, err)
	}

	return response.Accepted(c, result)
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
