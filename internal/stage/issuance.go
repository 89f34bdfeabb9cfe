package stage

import (
	"context"
	"errors"
	"net/http"
	"time"

	"kyc-worker-service/internal/apperr"
)

type IssueRequest struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type IssueResult struct {
	CredentialID    string
	TransactionHash string
}

// IssuanceClient records an approval on the ledger service. The service
// answers {"cid", "txHash"}; the long names are accepted as well.
type IssuanceClient struct {
	url string
	hc  *http.Client
}

func NewIssuanceClient(url string, timeout time.Duration) *IssuanceClient {
	return &IssuanceClient{url: url, hc: newHTTPClient(timeout)}
}

func (c *IssuanceClient) Issue(ctx context.Context, in IssueRequest) (IssueResult, error) {
	var resp struct {
		CID             string `json:"cid"`
		TxHash          string `json:"txHash"`
		CredentialID    string `json:"credentialId"`
		TransactionHash string `json:"transactionHash"`
	}
	if err := postJSON(ctx, c.hc, c.url, StageIssuance, in, &resp); err != nil {
		return IssueResult{}, err
	}

	out := IssueResult{CredentialID: resp.CID, TransactionHash: resp.TxHash}
	if out.CredentialID == "" {
		out.CredentialID = resp.CredentialID
	}
	if out.TransactionHash == "" {
		out.TransactionHash = resp.TransactionHash
	}
	if out.CredentialID == "" || out.TransactionHash == "" {
		return IssueResult{}, apperr.External(StageIssuance, 0, errors.New("response missing credential id or transaction hash"))
	}
	return out, nil
}
