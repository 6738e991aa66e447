// Package model adapts external model services to the domain ModelScorer
// port and evaluates score quality.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Compile-time interface checks.
var (
	_ domain.ModelScorer = (*HTTPScorer)(nil)
	_ domain.ModelScorer = (*BusScorer)(nil)
)

// PredictRequest is the body sent to a model service.
type PredictRequest struct {
	ModelType domain.ModelType     `json:"modelType"`
	Features  domain.FeatureVector `json:"features"`
}

// PredictResponse is the body a model service answers with. A service with
// no trained model sets Error and leaves Prediction empty.
type PredictResponse struct {
	Prediction *domain.ModelPrediction `json:"prediction,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// HTTPScorer scores through POST {baseURL}/models/predict.
type HTTPScorer struct {
	modelType domain.ModelType
	baseURL   string
	client    *http.Client
}

// NewHTTPScorer creates a scorer for one model type.
func NewHTTPScorer(modelType domain.ModelType, baseURL string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPScorer{
		modelType: modelType,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Score asks the model service for a prediction.
func (s *HTTPScorer) Score(ctx context.Context, features domain.FeatureVector) (*domain.ModelPrediction, error) {
	body, err := json.Marshal(PredictRequest{ModelType: s.modelType, Features: features})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/models/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s request failed: %v", domain.ErrModelUnavailable, s.modelType, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: %s (status %d)", domain.ErrModelUnavailable, s.modelType, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: %s model service error (status %d): %s",
			domain.ErrModelUnavailable, s.modelType, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return decodeResponse(s.modelType, data)
}

// BusScorer scores through request-reply on TopicModelScore.
type BusScorer struct {
	modelType domain.ModelType
	bus       domain.EventBus
}

// NewBusScorer creates a bus scorer for one model type.
func NewBusScorer(modelType domain.ModelType, bus domain.EventBus) *BusScorer {
	return &BusScorer{modelType: modelType, bus: bus}
}

// Score publishes the features and waits for the model worker's answer.
func (s *BusScorer) Score(ctx context.Context, features domain.FeatureVector) (*domain.ModelPrediction, error) {
	body, err := json.Marshal(PredictRequest{ModelType: s.modelType, Features: features})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal predict request: %w", err)
	}

	reply, err := s.bus.Request(ctx, domain.TopicModelScore, body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s request failed: %v", domain.ErrModelUnavailable, s.modelType, err)
	}
	return decodeResponse(s.modelType, reply)
}

func decodeResponse(modelType domain.ModelType, data []byte) (*domain.ModelPrediction, error) {
	var resp PredictResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse %s prediction: %w", modelType, err)
	}
	if resp.Error != "" || resp.Prediction == nil {
		return nil, fmt.Errorf("%w: %s: %s", domain.ErrModelUnavailable, modelType, resp.Error)
	}
	if resp.Prediction.ModelType == "" {
		resp.Prediction.ModelType = modelType
	}
	return resp.Prediction, nil
}

// Scorers holds the configured classifier and anomaly scorers. Either may
// be nil when the transport is disabled.
type Scorers struct {
	Classifier domain.ModelScorer
	Anomaly    domain.ModelScorer
}

// New builds scorers for the configured transport.
func New(cfg domain.ModelsConfig, bus domain.EventBus, timeout time.Duration) (Scorers, error) {
	switch cfg.Transport {
	case "", "none":
		return Scorers{}, nil

	case "http":
		var out Scorers
		if cfg.ClassifierURL != "" {
			out.Classifier = NewHTTPScorer(domain.ModelLightGBM, cfg.ClassifierURL, timeout)
		}
		if cfg.AnomalyURL != "" {
			out.Anomaly = NewHTTPScorer(domain.ModelPCA, cfg.AnomalyURL, timeout)
		}
		if out.Classifier == nil && out.Anomaly == nil {
			return Scorers{}, fmt.Errorf("http model transport needs a classifier or anomaly url")
		}
		return out, nil

	case "bus":
		if bus == nil {
			return Scorers{}, fmt.Errorf("bus model transport needs an event bus")
		}
		return Scorers{
			Classifier: NewBusScorer(domain.ModelLightGBM, bus),
			Anomaly:    NewBusScorer(domain.ModelPCA, bus),
		}, nil

	default:
		return Scorers{}, fmt.Errorf("unsupported model transport: %s", cfg.Transport)
	}
}
