package constants

// JobStatus is the canonical status for rows in extraction_jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending    JobStatus = "pending"    // created, not yet picked up
	JobStatusProcessing JobStatus = "processing" // chunks in flight
	JobStatusCompleted  JobStatus = "completed"  // all chunks extracted, dedup done
	JobStatusFailed     JobStatus = "failed"     // terminal failure, partial candidates kept
	JobStatusCancelled  JobStatus = "cancelled"  // terminal, stopped at a chunk boundary
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CandidateStatus is the review state of an extracted entity candidate.
type CandidateStatus string

const (
	CandidateStatusPending      CandidateStatus = "pending"
	CandidateStatusApproved     CandidateStatus = "approved"
	CandidateStatusRejected     CandidateStatus = "rejected"
	CandidateStatusDuplicate    CandidateStatus = "duplicate"
	CandidateStatusMaterialized CandidateStatus = "materialized" // terminal
)

var allCandidateStatuses = []CandidateStatus{
	CandidateStatusPending,
	CandidateStatusApproved,
	CandidateStatusRejected,
	CandidateStatusDuplicate,
	CandidateStatusMaterialized,
}

func IsValidCandidateStatus(s string) bool {
	for _, cs := range allCandidateStatuses {
		if s == string(cs) {
			return true
		}
	}
	return false
}

// MatchMethod identifies which strategy produced a duplicate match.
type MatchMethod string

const (
	MatchMethodExact    MatchMethod = "exact"
	MatchMethodFuzzy    MatchMethod = "fuzzy"
	MatchMethodAlias    MatchMethod = "alias"
	MatchMethodSemantic MatchMethod = "semantic"
)

// Disposition is the reviewer's verdict on a duplicate match.
type Disposition string

const (
	DispositionPending            Disposition = "pending"
	DispositionConfirmedDuplicate Disposition = "confirmed-duplicate"
	DispositionConfirmedUnique    Disposition = "confirmed-unique"
	DispositionMerged             Disposition = "merged"
)

var allDispositions = []Disposition{
	DispositionPending,
	DispositionConfirmedDuplicate,
	DispositionConfirmedUnique,
	DispositionMerged,
}

func IsValidDisposition(s string) bool {
	for _, d := range allDispositions {
		if s == string(d) {
			return true
		}
	}
	return false
}

// ReviewDecision is the bulk-review verb on candidates.
type ReviewDecision string

const (
	ReviewDecisionApprove ReviewDecision = "approve"
	ReviewDecisionReject  ReviewDecision = "reject"
)
