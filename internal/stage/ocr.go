package stage

import (
	"context"
	"net/http"
	"time"
)

type OCRResult struct {
	Confidence float64
}

// OCRClient posts the two document sides as multipart id_front / id_back
// and expects {"confidence": 0..1}. Other keys in the body are ignored.
type OCRClient struct {
	url string
	hc  *http.Client
}

func NewOCRClient(url string, timeout time.Duration) *OCRClient {
	return &OCRClient{url: url, hc: newHTTPClient(timeout)}
}

func (c *OCRClient) Extract(ctx context.Context, front, back Image) (OCRResult, error) {
	var resp struct {
		Confidence *float64 `json:"confidence"`
	}
	err := postMultipart(ctx, c.hc, c.url, StageOCR, []formPart{
		{field: "id_front", image: &front},
		{field: "id_back", image: &back},
	}, &resp)
	if err != nil {
		return OCRResult{}, err
	}
	if err := checkScore(StageOCR, "confidence", resp.Confidence); err != nil {
		return OCRResult{}, err
	}
	return OCRResult{Confidence: *resp.Confidence}, nil
}
