package handler

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/voxqueue/tts/internal/service"
	"github.com/voxqueue/tts/pkg/response"
)

type JobHandler struct {
	service *service.SynthesisService
}

func NewJobHandler(svc *service.SynthesisService) *JobHandler {
	return &JobHandler{service: svc}
}

// Status handles GET /job/:jobId
// @Summary      Get job status
// @Description  Get the status of a job, with its audio URL or error once resolved
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.JobStatusResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Router       /job/{jobId} [get]
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetJob(c.Context(), jobID)
	if err != nil {
		return writeServiceError(c, err)
	}

	return response.OK(c, result)
}

// Audio handles GET /job/:jobId/audio
// @Summary      Download job audio
// @Description  Download the WAV of a completed job
// @Tags         Jobs
// @Produce      audio/wav
// @Param        jobId path string true "Job ID"
// @Success      200 {file} binary
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Router       /job/{jobId}/audio [get]
func (h *JobHandler) Audio(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	audio, err := h.service.GetAudio(c.Context(), jobID)
	if err != nil {
		return writeServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, "audio/wav")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s.wav"`, jobID))
	return c.Send(audio)
}
