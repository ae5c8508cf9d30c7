package executor

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResumePayloadEmptyInput(t *testing.T) {
	p, err := DecodeResumePayload(nil)
	require.NoError(t, err)
	assert.Equal(t, ResumePayload{}, p)

	p, err = DecodeResumePayload([]byte{})
	require.NoError(t, err)
	assert.Equal(t, ResumePayload{}, p)
}

func TestDecodeResumePayloadCorruptInput(t *testing.T) {
	_, err := DecodeResumePayload([]byte("not json"))
	assert.Error(t, err)
}

func TestResumePayloadRoundTrip(t *testing.T) {
	revenue := 12345.67
	docID := uuid.New()

	original := ResumePayload{
		ScrapeResults: []ScrapedDocInfo{
			{DocumentType: "annual_report", FiscalYear: "2024", Label: "Annual Report 2024", PDFURL: "https://example.com/a.pdf"},
			{DocumentType: "transcript", FiscalYear: "2024", Label: "Q4 Transcript", PDFURL: "https://example.com/b.pdf"},
		},
		PDFBuffers:  map[int][]byte{0: []byte("%PDF-1.4 ...")},
		DocumentIDs: map[int]uuid.UUID{0: docID},
		BlobURLs:    map[int]string{0: "file:///blobs/0.pdf"},
		PageTexts:   map[int][]string{0: {"page one", "page two"}},
		ExtractionResults: map[int]ExtractionSummary{
			0: {ExtractionResultID: uuid.New(), CompanyName: "ACME", FiscalYear: "2024", Revenue: &revenue},
		},
		EmbeddedDocs: map[int]bool{0: true},
	}

	encoded, err := original.Encode()
	require.NoError(t, err)

	decoded, err := DecodeResumePayload(encoded)
	require.NoError(t, err)

	assert.Equal(t, original, decoded)
}

func TestResumePayloadZeroValueEncodesAndDecodes(t *testing.T) {
	var p ResumePayload
	encoded, err := p.Encode()
	require.NoError(t, err)

	decoded, err := DecodeResumePayload(encoded)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
}
