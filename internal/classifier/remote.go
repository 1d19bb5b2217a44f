package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/kjstillabower/weather2go/internal/models"
)

// Remote scores feature vectors through an HTTP sidecar that hosts the
// trained pipeline. Use NewRemote; it returns *RemoteProbabilistic when the
// sidecar reports probability support.
type Remote struct {
	serviceURL string
	httpClient *http.Client
	classes    []string
}

// RemoteProbabilistic is a Remote whose sidecar serves /predict_proba.
type RemoteProbabilistic struct {
	*Remote
}

type modelInfo struct {
	Classes       []string `json:"classes"`
	SupportsProba bool     `json:"supports_proba"`
}

type scoreRequest struct {
	Rows []models.FeatureVector `json:"rows"`
}

type probaResponse struct {
	Probabilities [][]float64 `json:"probabilities"`
}

// NewRemote fetches model metadata from GET {serviceURL}/model.
func NewRemote(ctx context.Context, serviceURL string, timeout time.Duration) (Model, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := &Remote{
		serviceURL: strings.TrimRight(serviceURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.serviceURL+"/model", nil)
	if err != nil {
		return nil, fmt.Errorf("model sidecar: create request: %w", err)
	}
	var info modelInfo
	if err := r.do(req, &info); err != nil {
		return nil, err
	}
	if len(info.Classes) == 0 {
		return nil, fmt.Errorf("%w: sidecar reported no classes", ErrInvalidArtifact)
	}
	r.classes = info.Classes
	if info.SupportsProba {
		return &RemoteProbabilistic{Remote: r}, nil
	}
	return r, nil
}

func (r *Remote) Name() string { return r.serviceURL }

func (r *Remote) Classes() []string { return slices.Clone(r.classes) }

// PredictProba calls POST /predict_proba.
func (r *RemoteProbabilistic) PredictProba(ctx context.Context, rows []models.FeatureVector) ([][]float64, error) {
	var resp probaResponse
	if err := r.post(ctx, "/predict_proba", rows, &resp); err != nil {
		return nil, err
	}
	if len(resp.Probabilities) != len(rows) {
		return nil, fmt.Errorf("model sidecar: %d distributions for %d rows", len(resp.Probabilities), len(rows))
	}
	return resp.Probabilities, nil
}

func (r *Remote) post(ctx context.Context, path string, rows []models.FeatureVector, out any) error {
	body, err := json.Marshal(scoreRequest{Rows: rows})
	if err != nil {
		return fmt.Errorf("model sidecar: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serviceURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("model sidecar: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return r.do(req, out)
}

func (r *Remote) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("model sidecar: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model sidecar: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("model sidecar: decode response: %w", err)
	}
	return nil
}
