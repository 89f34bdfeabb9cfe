package stage

import (
	"context"
	"net/http"
	"time"
)

type MatchResult struct {
	MatchScore float64
}

// FaceMatchClient posts selfie, id_image and user_id as multipart and
// expects {"matchScore": 0..1}.
type FaceMatchClient struct {
	url string
	hc  *http.Client
}

func NewFaceMatchClient(url string, timeout time.Duration) *FaceMatchClient {
	return &FaceMatchClient{url: url, hc: newHTTPClient(timeout)}
}

func (c *FaceMatchClient) Match(ctx context.Context, selfie, reference Image, userID string) (MatchResult, error) {
	var resp struct {
		MatchScore *float64 `json:"matchScore"`
	}
	err := postMultipart(ctx, c.hc, c.url, StageFaceMatch, []formPart{
		{field: "selfie", image: &selfie},
		{field: "id_image", image: &reference},
		{field: "user_id", value: userID},
	}, &resp)
	if err != nil {
		return MatchResult{}, err
	}
	if err := checkScore(StageFaceMatch, "matchScore", resp.MatchScore); err != nil {
		return MatchResult{}, err
	}
	return MatchResult{MatchScore: *resp.MatchScore}, nil
}
