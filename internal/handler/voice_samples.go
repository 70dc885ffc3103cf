package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/voxqueue/tts/internal/model"
	"github.com/voxqueue/tts/internal/service"
	"github.com/voxqueue/tts/pkg/response"
)

type VoiceSampleHandler struct {
	service *service.VoiceSampleService
}

func NewVoiceSampleHandler(svc *service.VoiceSampleService) *VoiceSampleHandler {
	return &VoiceSampleHandler{service: svc}
}

// Create handles POST /voice-samples
// @Summary      Save voice sample
// @Description  Store a reference recording for reuse. Leading and trailing silence is trimmed.
// @Tags         Voice Samples
// @Accept       json
// @Produce      json
// @Param        request body model.VoiceSampleCreateRequest true "Voice sample"
// @Success      200 {object} model.VoiceSample
// @Failure      400 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Router       /voice-samples [post]
func (h *VoiceSampleHandler) Create(c *fiber.Ctx) error {
	var req model.VoiceSampleCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	sample, err := h.service.Create(c.Context(), &req)
	if err != nil {
		return writeServiceError(c, err)
	}
	return response.OK(c, sample)
}

// List handles GET /voice-samples
// @Summary      List voice samples
// @Tags         Voice Samples
// @Produce      json
// @Success      200 {object} model.VoiceSampleListResponse
// @Failure      503 {object} response.ErrorResponse
// @Router       /voice-samples [get]
func (h *VoiceSampleHandler) List(c *fiber.Ctx) error {
	samples, err := h.service.List(c.Context())
	if err != nil {
		return writeServiceError(c, err)
	}
	return response.OK(c, samples)
}

// Audio handles GET /voice-samples/:sampleId/audio
// @Summary      Get voice sample audio
// @Description  Base64 WAV and transcript, ready to pass as referenceAudio and referenceText
// @Tags         Voice Samples
// @Produce      json
// @Param        sampleId path string true "Sample ID"
// @Success      200 {object} model.VoiceSampleAudioResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /voice-samples/{sampleId}/audio [get]
func (h *VoiceSampleHandler) Audio(c *fiber.Ctx) error {
	audio, err := h.service.GetAudio(c.Context(), c.Params("sampleId"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return response.OK(c, audio)
}

// Delete handles DELETE /voice-samples/:sampleId
// @Summary      Delete voice sample
// @Tags         Voice Samples
// @Produce      json
// @Param        sampleId path string true "Sample ID"
// @Success      200 {object} model.VoiceSampleDeleteResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /voice-samples/{sampleId} [delete]
func (h *VoiceSampleHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("sampleId")
	if err := h.service.Delete(c.Context(), id); err != nil {
		return writeServiceError(c, err)
	}
	return response.OK(c, model.VoiceSampleDeleteResponse{Status: "deleted", ID: id})
}
