package executor

// Step is one of the eight named units of work composing a job, in their
// fixed execution order. No inheritance, no dynamic dispatch over step
// kinds: the executor holds a plain array of these in order, adapted from
// the teacher's Task/Graph shape but dropping the general DAG/topological
// sort since this pipeline is a strict chain.
type Step int

const (
	StepValidateURL Step = iota
	StepScrapePage
	StepDownloadPDFs
	StepUploadToCloud
	StepExtractText
	StepExtractData
	StepCreateEmbeddings
	StepGenerateSnapshot

	TotalSteps = int(StepGenerateSnapshot) + 1
)

var stepNames = [TotalSteps]string{
	StepValidateURL:      "validate_url",
	StepScrapePage:       "scrape_page",
	StepDownloadPDFs:     "download_pdfs",
	StepUploadToCloud:    "upload_to_cloud",
	StepExtractText:      "extract_text",
	StepExtractData:      "extract_data",
	StepCreateEmbeddings: "create_embeddings",
	StepGenerateSnapshot: "generate_snapshot",
}

// String renders a step's wire/persisted name.
func (s Step) String() string {
	if s < 0 || int(s) >= TotalSteps {
		return "unknown"
	}
	return stepNames[s]
}

// StepByIndex returns the step at ordinal i, or false if out of range.
func StepByIndex(i int) (Step, bool) {
	if i < 0 || i >= TotalSteps {
		return 0, false
	}
	return Step(i), true
}
