package response

import "github.com/gofiber/fiber/v2"

// Error codes
const (
	CodeValidationError       = "VALIDATION_ERROR"
	CodeTextEmpty             = "TEXT_EMPTY"
	CodeTextTooLong           = "TEXT_TOO_LONG"
	CodeInvalidVoiceParam     = "INVALID_VOICE_PARAM"
	CodeReferencePairMismatch = "REFERENCE_PAIR_MISMATCH"
	CodeNotFound              = "NOT_FOUND"
	CodeJobNotCompleted       = "JOB_NOT_COMPLETED"
	CodeRateLimited           = "RATE_LIMITED"
	CodeQueueFull             = "QUEUE_FULL"
	CodeSynthesisTimeout      = "SYNTHESIS_TIMEOUT"
	CodeSynthesisFailed       = "SYNTHESIS_FAILED"
	CodeBrokerUnavailable     = "BROKER_UNAVAILABLE"
	CodeServiceError          = "SERVICE_ERROR"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

// BadRequest reports a client error under a specific code
func BadRequest(c *fiber.Ctx, code, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, code, message, details)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func JobNotCompleted(c *fiber.Ctx, status string) error {
	return Error(c, fiber.StatusConflict, CodeJobNotCompleted, "Audio is not available yet",
		fiber.Map{"status": status})
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func QueueFull(c *fiber.Ctx, tier string) error {
	return Error(c, fiber.StatusServiceUnavailable, CodeQueueFull, "Queue is full, try again later",
		fiber.Map{"quality": tier})
}

// SyncCapacity rejects a blocking submission when the gateway already holds its maximum of waiters
func SyncCapacity(c *fiber.Ctx) error {
	return Error(c, fiber.StatusServiceUnavailable, CodeQueueFull, "Too many synchronous requests, use /synthesize/async",
		fiber.Map{"reason": "sync_waiters"})
}

func SynthesisTimeout(c *fiber.Ctx, jobID string) error {
	return Error(c, fiber.StatusRequestTimeout, CodeSynthesisTimeout, "Synthesis did not finish in time",
		fiber.Map{"jobId": jobID})
}

func SynthesisFailed(c *fiber.Ctx, jobID, errorCode, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeSynthesisFailed, message,
		fiber.Map{"jobId": jobID, "errorCode": errorCode})
}

func BrokerUnavailable(c *fiber.Ctx) error {
	return Error(c, fiber.StatusServiceUnavailable, CodeBrokerUnavailable, "Job broker is unavailable", nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}
