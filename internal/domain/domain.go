// Package domain defines the entity types shared by the store, executor
// and retrieval pipeline. None of these types talk to the database
// directly; that is the store package's job.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProjectStatus is the coarse lifecycle state of a Project.
type ProjectStatus string

const (
	ProjectPending     ProjectStatus = "pending"
	ProjectScraping    ProjectStatus = "scraping"
	ProjectDownloading ProjectStatus = "downloading"
	ProjectProcessing  ProjectStatus = "processing"
	ProjectCompleted   ProjectStatus = "completed"
	ProjectFailed      ProjectStatus = "failed"
)

// Project is a single company filings ingestion target.
type Project struct {
	ID           uuid.UUID
	CompanyName  string
	SourceURL    string
	Exchange     string
	Status       ProjectStatus
	ErrorMessage string
	CreatedAt    time.Time
}

// Document is one PDF filing belonging to a Project.
type Document struct {
	ID           uuid.UUID
	ProjectID    uuid.UUID
	DocumentType string // annual_report, presentation, transcript
	FiscalYear   string
	Label        string
	FileURL      string
	OriginalURL  string
	PageCount    int
	CreatedAt    time.Time
}

// DocumentPage is one extracted page of a Document, 1-based.
type DocumentPage struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	PageNumber int
	PageText   string
	CreatedAt  time.Time
}

// TextChunk is a searchable slice of a DocumentPage, 0-based within the page.
type TextChunk struct {
	ID         uuid.UUID
	PageID     uuid.UUID
	ChunkIndex int
	Content    string
	Field      string
	CreatedAt  time.Time
}

// Embedding is the fixed-dimension vector for a TextChunk, 1:1.
type Embedding struct {
	ID        uuid.UUID
	ChunkID   uuid.UUID
	Vector    []float32
	CreatedAt time.Time
}

// ExtractionResult is the structured extraction produced for a Document.
type ExtractionResult struct {
	ID                 uuid.UUID
	DocumentID         uuid.UUID
	ExtractedData      []byte // JSON
	ExtractionMetadata []byte // JSON, citations/reasoning
	CompanyName        string
	FiscalYear         string
	Revenue            *float64
	NetProfit          *float64
	CreatedAt          time.Time
}

// CompanySnapshot is the cached, versioned per-project summary.
type CompanySnapshot struct {
	ProjectID    uuid.UUID
	SnapshotData []byte // JSON
	GeneratedAt  time.Time
	Version      int
	UpdatedAt    time.Time
}

// MessageRole distinguishes user questions from model answers.
type MessageRole string

const (
	RoleUser MessageRole = "user"
	RoleAI   MessageRole = "ai"
)

// Chat is a root conversation entity, independent of any Project's lifetime.
type Chat struct {
	ID        uuid.UUID
	Title     string
	CreatedAt time.Time
}

// Message is one turn of a Chat, carrying the project scope active when it was sent.
type Message struct {
	ID         uuid.UUID
	ChatID     uuid.UUID
	Role       MessageRole
	Content    string
	ProjectIDs []uuid.UUID
	CreatedAt  time.Time
}

// JobStatus is the Job FSM state (see executor package for transitions).
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job tracks the resumable progress of a Project's ingestion pipeline.
type Job struct {
	ID                  uuid.UUID
	ProjectID           uuid.UUID
	ShortID             string
	Status              JobStatus
	CurrentStep         string
	CurrentStepIndex    int
	LastSuccessfulStep  string
	FailedStep          string
	ErrorMessage        string
	ResumeData          []byte // opaque JSON, see executor.ResumePayload
	CanResume           bool
	DocumentsProcessed  int
	EmbeddingsCreated   int
	RetryCount          int
	StartedAt           time.Time
	UpdatedAt           time.Time
	CompletedAt         *time.Time
	CancelledAt         *time.Time
}

// ChunkSearchResult is one row returned by Store.KNN.
type ChunkSearchResult struct {
	ChunkID       uuid.UUID
	ProjectID     uuid.UUID
	Content       string
	Field         string
	ChunkIndex    int
	PageNumber    int
	DocumentLabel string
	DocumentType  string
	FiscalYear    string
	CompanyName   string
	Distance      float64
}
