package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepStringMatchesOrder(t *testing.T) {
	want := []string{
		"validate_url", "scrape_page", "download_pdfs", "upload_to_cloud",
		"extract_text", "extract_data", "create_embeddings", "generate_snapshot",
	}
	assert.Equal(t, len(want), TotalSteps)
	for i, name := range want {
		assert.Equal(t, name, Step(i).String())
	}
}

func TestStepStringOutOfRange(t *testing.T) {
	assert.Equal(t, "unknown", Step(-1).String())
	assert.Equal(t, "unknown", Step(TotalSteps).String())
}

func TestStepByIndex(t *testing.T) {
	step, ok := StepByIndex(3)
	assert.True(t, ok)
	assert.Equal(t, StepUploadToCloud, step)

	_, ok = StepByIndex(-1)
	assert.False(t, ok)

	_, ok = StepByIndex(TotalSteps)
	assert.False(t, ok)
}
