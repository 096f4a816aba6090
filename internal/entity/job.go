package entity

import (
	"time"

	"github.com/lorekeep/entity-extractor/constants"
)

// ExtractionJob represents one extraction request for data transfer between layers.
type ExtractionJob struct {
	ID               int64               `json:"id"`
	CollectionID     int64               `json:"collection_id"`
	RequestedBy      int64               `json:"requested_by"`
	SourceText       string              `json:"-"`
	ChunkSize        int                 `json:"chunk_size"`
	TotalChunks      int                 `json:"total_chunks"`
	ProcessedChunks  int                 `json:"processed_chunks"`
	Status           constants.JobStatus `json:"status"`
	Provider         constants.Provider  `json:"provider"`
	Model            string              `json:"model"`
	EstimatedTokens  int                 `json:"estimated_tokens"`
	ActualTokens     int                 `json:"actual_tokens"`
	EstimatedCostUSD float64             `json:"estimated_cost_usd"`
	ActualCostUSD    float64             `json:"actual_cost_usd"`
	EntitiesCreated  int                 `json:"entities_created"`
	ErrorMessage     *string             `json:"error_message,omitempty"`
	RetryCount       int                 `json:"retry_count"`
	CreatedAt        time.Time           `json:"created_at"`
	StartedAt        *time.Time          `json:"started_at,omitempty"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
}

// Progress is the caller-facing view of an in-flight or finished job.
type Progress struct {
	JobID           int64               `json:"job_id"`
	Status          constants.JobStatus `json:"status"`
	ProcessedChunks int                 `json:"processed_chunks"`
	TotalChunks     int                 `json:"total_chunks"`
	CandidatesFound int                 `json:"candidates_found"`
	ActualTokens    int                 `json:"actual_tokens"`
	ActualCostUSD   float64             `json:"actual_cost_usd"`
	ErrorMessage    *string             `json:"error_message,omitempty"`
	ElapsedMS       int64               `json:"elapsed_ms"`
}

// Estimate is the pre-flight cost projection returned before processing.
type Estimate struct {
	Chunks  int     `json:"chunks"`
	Tokens  int     `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`
}
