package model

// Quality tiers
type Tier string

const (
	TierHigh Tier = "high"
	TierFast Tier = "fast"
)

var ValidTiers = []Tier{TierHigh, TierFast}

// IsValid reports whether t names a known tier
func (t Tier) IsValid() bool {
	return t == TierHigh || t == TierFast
}

// Steps returns the engine step count associated with the tier
func (t Tier) Steps() int {
	if t == TierFast {
		return 16
	}
	return 32
}

// Auto lets the engine pick a value for any voice selector
const VoiceAuto = "auto"

// Gender selectors
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Accent areas
type Area string

const (
	AreaNorthern Area = "northern"
	AreaSouthern Area = "southern"
	AreaCentral  Area = "central"
)

// Emotions
type Emotion string

const (
	EmotionNeutral   Emotion = "neutral"
	EmotionSerious   Emotion = "serious"
	EmotionMonotone  Emotion = "monotone"
	EmotionSad       Emotion = "sad"
	EmotionSurprised Emotion = "surprised"
	EmotionHappy     Emotion = "happy"
	EmotionAngry     Emotion = "angry"
)

// Speaking styles
type Style string

const (
	StyleStory     Style = "story"
	StyleNews      Style = "news"
	StyleAudiobook Style = "audiobook"
	StyleInterview Style = "interview"
	StyleReview    Style = "review"
)

var (
	ValidGenders  = []Gender{GenderMale, GenderFemale}
	ValidAreas    = []Area{AreaNorthern, AreaSouthern, AreaCentral}
	ValidEmotions = []Emotion{
		EmotionNeutral, EmotionSerious, EmotionMonotone, EmotionSad,
		EmotionSurprised, EmotionHappy, EmotionAngry,
	}
	ValidStyles = []Style{StyleStory, StyleNews, StyleAudiobook, StyleInterview, StyleReview}
)

// Job status
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// IsTerminal reports whether no further transition can follow s
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// Worker states
type WorkerState string

const (
	WorkerStateStarting   WorkerState = "starting"
	WorkerStateIdle       WorkerState = "idle"
	WorkerStateProcessing WorkerState = "processing"
	WorkerStateDraining   WorkerState = "draining"
	WorkerStateStopped    WorkerState = "stopped"
)
