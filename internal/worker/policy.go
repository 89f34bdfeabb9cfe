package worker

import "kyc-worker-service/internal/entity"

// EvaluateOCR returns the terminal transition when the document read is not
// confident enough, or nil to continue to face matching.
func EvaluateOCR(confidence, threshold float64) entity.Transition {
	if confidence < threshold {
		return entity.NeedsReview{OCRConfidence: entity.Float(confidence)}
	}
	return nil
}

// EvaluateMatch returns needs_review with both scores when the selfie does
// not match, or nil to continue to issuance.
func EvaluateMatch(ocrConfidence, matchScore, threshold float64) entity.Transition {
	if matchScore < threshold {
		return entity.NeedsReview{
			OCRConfidence: entity.Float(ocrConfidence),
			MatchScore:    entity.Float(matchScore),
		}
	}
	return nil
}
