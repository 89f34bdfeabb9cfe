package entity

// Transition is one status change of a job together with the fields that
// become known at that status. Each status has its own variant so callers
// never guess which fields are present.
type Transition interface {
	Status() JobStatus
	// Apply copies the variant's fields onto job and sets its status.
	Apply(job *Job)
	// Fields returns the status-specific payload for push notifications.
	Fields() map[string]any
}

type Processing struct{}

func (Processing) Status() JobStatus { return StatusProcessing }

func (Processing) Apply(job *Job) { job.Status = StatusProcessing }

func (Processing) Fields() map[string]any { return map[string]any{} }

// NeedsReview carries whichever scores were computed before a threshold
// failed. MatchScore is nil when OCR already failed.
type NeedsReview struct {
	OCRConfidence *float64
	MatchScore    *float64
}

func (NeedsReview) Status() JobStatus { return StatusNeedsReview }

func (t NeedsReview) Apply(job *Job) {
	job.Status = StatusNeedsReview
	if t.OCRConfidence != nil {
		job.OCRConfidence = t.OCRConfidence
	}
	if t.MatchScore != nil {
		job.MatchScore = t.MatchScore
	}
}

func (t NeedsReview) Fields() map[string]any {
	f := map[string]any{}
	if t.OCRConfidence != nil {
		f["ocrConfidence"] = *t.OCRConfidence
	}
	if t.MatchScore != nil {
		f["matchScore"] = *t.MatchScore
	}
	return f
}

type Approved struct {
	OCRConfidence   float64
	MatchScore      float64
	CredentialID    string
	TransactionHash string
}

func (Approved) Status() JobStatus { return StatusApproved }

func (t Approved) Apply(job *Job) {
	ocr, match := t.OCRConfidence, t.MatchScore
	cred, tx := t.CredentialID, t.TransactionHash
	job.Status = StatusApproved
	job.OCRConfidence = &ocr
	job.MatchScore = &match
	job.CredentialID = &cred
	job.TransactionHash = &tx
}

func (t Approved) Fields() map[string]any {
	return map[string]any{
		"ocrConfidence":   t.OCRConfidence,
		"matchScore":      t.MatchScore,
		"credentialId":    t.CredentialID,
		"transactionHash": t.TransactionHash,
	}
}

func Float(v float64) *float64 { return &v }
