package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/voxqueue/tts/internal/logger"
	"github.com/voxqueue/tts/internal/service"
	"github.com/voxqueue/tts/pkg/response"
)

// writeServiceError maps service errors onto the response envelope
func writeServiceError(c *fiber.Ctx, err error) error {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		var details interface{}
		if verr.Field != "" {
			details = fiber.Map{"field": verr.Field}
		}
		return response.BadRequest(c, verr.Code, verr.Message, details)
	}

	var jerr *service.JobError
	if errors.As(err, &jerr) {
		if errors.Is(err, service.ErrSynthesisTimeout) {
			return response.SynthesisTimeout(c, jerr.JobID)
		}
		return response.SynthesisFailed(c, jerr.JobID, jerr.Code, jerr.Message)
	}

	var nc *service.NotCompletedError
	if errors.As(err, &nc) {
		return response.JobNotCompleted(c, string(nc.Status))
	}

	var qf *service.QueueFullError
	if errors.As(err, &qf) {
		return response.QueueFull(c, string(qf.Tier))
	}

	switch {
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found or expired")
	case errors.Is(err, service.ErrSampleNotFound):
		return response.NotFound(c, "Voice sample not found")
	case errors.Is(err, service.ErrSyncCapacity):
		return response.SyncCapacity(c)
	case errors.Is(err, service.ErrBrokerUnavailable):
		logger.Errorf("%s %s: %v", c.Method(), c.Path(), err)
		return response.BrokerUnavailable(c)
	}

	logger.Errorf("%s %s: %v", c.Method(), c.Path(), err)
	return response.ServiceError(c, err.Error())
}
