package domain

import "time"

// JobStatus is the lifecycle state of an export job.
type JobStatus string

const (
	JobSubmitted JobStatus = "SUBMITTED"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// Terminal reports whether the status is absorbing.
// Terminal jobs never change status again (re-drive is the explicit exception).
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// UnitStatus is the lifecycle state of a single export unit.
type UnitStatus string

const (
	UnitPending   UnitStatus = "PENDING"
	UnitRunning   UnitStatus = "RUNNING"
	UnitSucceeded UnitStatus = "SUCCEEDED"
	UnitRetryWait UnitStatus = "RETRY_WAIT"
	UnitDLQ       UnitStatus = "DLQ"
)

// Terminal reports whether the unit status is absorbing.
func (s UnitStatus) Terminal() bool {
	return s == UnitSucceeded || s == UnitDLQ
}

// ExportJob is one client submission. A job owns its units; units reference
// the job by ID only (the reverse lookup is a database join).
type ExportJob struct {
	ID           string
	JobKey       string
	Status       JobStatus
	TotalInputs  int
	RequestedAt  time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage *string
}

// ExportUnit is one (job, index key, effective date, asof indicator) work
// item. It produces exactly one CSV artifact.
//
// Invariants maintained by the store:
//   - LeaseOwner and LeaseUntil are both set iff Status is RUNNING.
//   - NextRetryAt is set iff Status is RETRY_WAIT.
//   - S3Path and IsReused are set iff Status is SUCCEEDED.
//   - AttemptCount never decreases (except on explicit re-drive).
type ExportUnit struct {
	ID            string
	JobID         string
	IndexKey      string
	EffectiveDate time.Time // calendar date, midnight UTC
	AsOfIndicator string
	Status        UnitStatus
	AttemptCount  int
	NextRetryAt   *time.Time
	LeaseOwner    *string
	LeaseUntil    *time.Time
	StartedAt     *time.Time
	S3Path        *string
	IsReused      *bool
	ErrorMessage  *string
}

// Artifact is a row in the reuse registry. At most one artifact exists per
// (IndexKey, EffectiveDate, AsOfIndicator); its lifetime exceeds the job
// that generated it.
type Artifact struct {
	IndexKey      string
	EffectiveDate time.Time
	AsOfIndicator string
	S3Path        string
	SourceJobID   string
	GeneratedAt   time.Time
}

// JobCounts is the aggregate status projection for a job.
type JobCounts struct {
	Total          int
	Pending        int
	Running        int
	RetryWait      int
	Succeeded      int
	DLQ            int
	FilesGenerated int
	FilesReused    int
}
