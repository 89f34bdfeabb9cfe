package stage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// StubConfig fixes the scores the stub services return.
type StubConfig struct {
	OCRConfidence float64
	MatchScore    float64
}

// NewStubMux serves stand-ins for the three external services on
// /ocr, /match and /blockchain/issue with the same request contracts.
func NewStubMux(cfg StubConfig) http.Handler {
	r := chi.NewRouter()

	r.Post("/ocr", func(w http.ResponseWriter, r *http.Request) {
		if !hasFiles(r, "id_front", "id_back") {
			writeStubJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing ID images"})
			return
		}
		writeStubJSON(w, http.StatusOK, map[string]any{
			"fields":     map[string]string{"name": "", "idNumber": ""},
			"confidence": cfg.OCRConfidence,
		})
	})

	r.Post("/match", func(w http.ResponseWriter, r *http.Request) {
		if !hasFiles(r, "selfie", "id_image") || r.FormValue("user_id") == "" {
			writeStubJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing selfie, ID image, or user_id"})
			return
		}
		writeStubJSON(w, http.StatusOK, map[string]any{"matchScore": cfg.MatchScore})
	})

	r.Post("/blockchain/issue", func(w http.ResponseWriter, r *http.Request) {
		var in IssueRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.UserID == "" {
			writeStubJSON(w, http.StatusBadRequest, map[string]any{"error": "userId and status are required"})
			return
		}
		record, _ := json.Marshal(in)
		sum, err := multihash.Sum(record, multihash.SHA2_256, -1)
		if err != nil {
			writeStubJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		credential := cid.NewCidV1(cid.Raw, sum).String()
		tx := sha256.Sum256([]byte(credential + in.UserID))

		writeStubJSON(w, http.StatusOK, map[string]any{
			"cid":    credential,
			"txHash": "0x" + hex.EncodeToString(tx[:]),
		})
	})

	return r
}

func hasFiles(r *http.Request, fields ...string) bool {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return false
	}
	for _, f := range fields {
		if len(r.MultipartForm.File[f]) == 0 {
			return false
		}
	}
	return true
}

func writeStubJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
