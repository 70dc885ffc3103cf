package handler

import "github.com/gofiber/fiber/v2"

// Register mounts the synthesis API. submitLimit guards both submit endpoints.
func Register(app fiber.Router, synth *SynthesizeHandler, jobs *JobHandler, samples *VoiceSampleHandler, system *SystemHandler, submitLimit fiber.Handler) {
	app.Get("/", system.Root)
	app.Get("/health", system.Health)
	app.Get("/voices", system.Voices)

	synthesize := app.Group("/synthesize", submitLimit)
	synthesize.Post("/", synth.Synthesize)
	synthesize.Post("/async", synth.SynthesizeAsync)

	job := app.Group("/job")
	job.Get("/:jobId", jobs.Status)
	job.Get("/:jobId/audio", jobs.Audio)

	voiceSamples := app.Group("/voice-samples")
	voiceSamples.Post("/", samples.Create)
	voiceSamples.Get("/", samples.List)
	voiceSamples.Get("/:sampleId/audio", samples.Audio)
	voiceSamples.Delete("/:sampleId", samples.Delete)
}
