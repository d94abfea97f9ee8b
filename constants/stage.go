package constants

// ProcessingStage is the canonical document-level pipeline position stored in
// documents.status. A document never moves back to an earlier stage once
// advanced, except to StageFailed.
type ProcessingStage string

// Stable values (store these exact strings in DB).
const (
	StageUploaded      ProcessingStage = "uploaded"
	StagePreprocessing ProcessingStage = "preprocessing"
	StageOCRExtraction ProcessingStage = "ocr_extraction"
	StageLLMProcessing ProcessingStage = "llm_processing"
	StageValidation    ProcessingStage = "validation"
	StageRouting       ProcessingStage = "routing"
	StageCompleted     ProcessingStage = "completed"
	StageFailed        ProcessingStage = "failed"
)

// PipelineStages lists the five executable stages in pipeline order.
// StageUploaded, StageCompleted and StageFailed are document states only and
// never appear in processing_stages rows.
var PipelineStages = []ProcessingStage{
	StagePreprocessing,
	StageOCRExtraction,
	StageLLMProcessing,
	StageValidation,
	StageRouting,
}

// stageOrder maps each stage to its 1-based pipeline position.
var stageOrder = map[ProcessingStage]int{
	StageUploaded:      0,
	StagePreprocessing: 1,
	StageOCRExtraction: 2,
	StageLLMProcessing: 3,
	StageValidation:    4,
	StageRouting:       5,
	StageCompleted:     6,
}

// StageRank returns the pipeline position of a stage (0 for uploaded, 6 for
// completed). StageFailed has no rank; ok is false for it and for unknown
// values.
func StageRank(s ProcessingStage) (int, bool) {
	r, ok := stageOrder[s]
	return r, ok
}

// progressStarted / progressCompleted implement the fixed progress mapping:
// preprocessing starts at 10% and completes at 20%, OCR completes at 40%, LLM
// processing at 60%, validation at 80%, routing at 90%, finalization at 100%.
var progressStarted = map[ProcessingStage]int{
	StagePreprocessing: 10,
	StageOCRExtraction: 20,
	StageLLMProcessing: 40,
	StageValidation:    60,
	StageRouting:       80,
}

var progressCompleted = map[ProcessingStage]int{
	StagePreprocessing: 20,
	StageOCRExtraction: 40,
	StageLLMProcessing: 60,
	StageValidation:    80,
	StageRouting:       90,
	StageCompleted:     100,
}

// ProgressStarted returns the percentage shown while the given stage is
// running.
func ProgressStarted(s ProcessingStage) int { return progressStarted[s] }

// ProgressCompleted returns the percentage shown once the given stage has
// finished.
func ProgressCompleted(s ProcessingStage) int { return progressCompleted[s] }

// StageStatus is the status of one processing_stages row. A stage moves
// pending -> processing -> {completed|failed} and never reverses.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageDone       StageStatus = "completed"
	StageErrored    StageStatus = "failed"
)
