// Package stage holds the HTTP adapters for the three external verification
// services (document OCR, face match, credential issuance) and local stub
// servers that speak the same contracts.
package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"kyc-worker-service/internal/apperr"
)

const (
	StageOCR       = "ocr"
	StageFaceMatch = "face_match"
	StageIssuance  = "issuance"
)

// maxResponseBytes bounds how much of a stage response is read.
const maxResponseBytes = 1 << 20

// Image is an image payload sent to a stage service.
type Image struct {
	Filename string
	Data     []byte
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

type formPart struct {
	field string
	image *Image
	value string
}

func multipartBody(parts []formPart) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.image == nil {
			if err := mw.WriteField(p.field, p.value); err != nil {
				return nil, "", err
			}
			continue
		}
		name := p.image.Filename
		if name == "" {
			name = p.field + ".jpg"
		}
		fw, err := mw.CreateFormFile(p.field, name)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(p.image.Data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// do sends req and decodes a 2xx JSON body into out. Every failure comes
// back as *apperr.ExternalServiceError tagged with stage.
func do(hc *http.Client, req *http.Request, stage string, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return apperr.External(stage, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperr.External(stage, resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return apperr.External(stage, resp.StatusCode, errors.New(msg))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return apperr.External(stage, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func postMultipart(ctx context.Context, hc *http.Client, url, stage string, parts []formPart, out any) error {
	body, contentType, err := multipartBody(parts)
	if err != nil {
		return apperr.External(stage, 0, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return apperr.External(stage, 0, err)
	}
	req.Header.Set("Content-Type", contentType)
	return do(hc, req, stage, out)
}

func postJSON(ctx context.Context, hc *http.Client, url, stage string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return apperr.External(stage, 0, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return apperr.External(stage, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return do(hc, req, stage, out)
}

func checkScore(stage, field string, v *float64) error {
	if v == nil {
		return apperr.External(stage, 0, fmt.Errorf("response missing %s", field))
	}
	if *v < 0 || *v > 1 {
		return apperr.External(stage, 0, fmt.Errorf("%s %v out of range [0,1]", field, *v))
	}
	return nil
}
