// Package analysis is the synchronous client of the remote analysis service.
// The service owns every accept/adjust judgment; this client only moves JSON
// and classifies failures. It never retries: retry budgets live in the stage
// controllers.
package analysis

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/goccy/go-json"
)

const (
	healthPath           = "/api/health"
	weightPath           = "/api/weight/analyze"
	coarseTimePath       = "/api/coarse_time/analyze"
	flightMaterialPath   = "/api/flight_material/analyze"
	fineTimePath         = "/api/fine_time/analyze"
	adaptiveLearningPath = "/api/adaptive_learning/analyze"
)

// ValidationError is a 422 from the service, already rewritten for the
// operator.
type ValidationError struct {
	Message string
	Field   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Message + " (" + e.Field + ")"
	}
	return e.Message
}

// TransportError is any non-200/non-422 outcome, connection errors included.
type TransportError struct {
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return "analysis service unreachable: " + e.Err.Error()
	}
	return fmt.Sprintf("analysis service returned status %d", e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = configs.AnalysisBaseURL
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: configs.AnalysisTimeout},
	}
}

// Health checks the service liveness endpoint.
func (c *Client) Health() error {
	resp, err := c.http.Get(c.base + healthPath)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &TransportError{Status: resp.StatusCode}
	}
	return nil
}

// post sends one analyze request and decodes into out. The raw body is
// returned so callers can run tolerant extraction on optional fields.
func (c *Client) post(path string, reqBody interface{}, out interface{}) ([]byte, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, &TransportError{Status: resp.StatusCode, Err: err}
		}
		return raw, nil
	case http.StatusUnprocessableEntity:
		var body validationBody
		if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
			return nil, &ValidationError{Message: "the analysis service rejected the request"}
		}
		field := body.Field
		if plain, ok := fieldNames[field]; ok {
			field = plain
		}
		return nil, &ValidationError{Message: FriendlyMessage(body.Error), Field: field}
	default:
		return nil, &TransportError{Status: resp.StatusCode}
	}
}

// Weight asks for the initial fill speeds recommended for a target weight.
func (c *Client) Weight(targetWeight float64) (*WeightResponse, error) {
	req := WeightRequest{
		AnalysisType:  "weight",
		ClientVersion: configs.AnalysisClientVersion,
		TargetWeight:  targetWeight,
	}
	var resp WeightResponse
	if _, err := c.post(weightPath, &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CoarseTime submits one coarse-fill trial.
func (c *Client) CoarseTime(targetWeight float64, coarseTimeMs int64, currentSpeed float64) (*CoarseTimeResponse, error) {
	req := CoarseTimeRequest{
		AnalysisType:       "coarse_time",
		ClientVersion:      configs.AnalysisClientVersion,
		TargetWeight:       targetWeight,
		CoarseTimeMs:       coarseTimeMs,
		CurrentCoarseSpeed: currentSpeed,
	}
	var resp CoarseTimeResponse
	if _, err := c.post(coarseTimePath, &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FlightMaterial submits the three sampled weights of the flight stage.
func (c *Client) FlightMaterial(targetWeight float64, recorded []float64) (*FlightMaterialResponse, error) {
	req := FlightMaterialRequest{
		AnalysisType:    "flight_material",
		ClientVersion:   configs.AnalysisClientVersion,
		TargetWeight:    targetWeight,
		RecordedWeights: recorded,
	}
	var resp FlightMaterialResponse
	if _, err := c.post(flightMaterialPath, &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FineTime submits one fine-fill trial. The returned response always carries
// a resolved FineFlowRate when the service provided one in any form.
func (c *Client) FineTime(fineTimeMs int64, currentFineSpeed float64, originalTarget float64, flightMaterial float64) (*FineTimeResponse, error) {
	req := FineTimeRequest{
		AnalysisType:         "fine_time",
		ClientVersion:        configs.AnalysisClientVersion,
		TargetWeight:         configs.FineTrialTarget,
		FineTimeMs:           fineTimeMs,
		CurrentFineSpeed:     currentFineSpeed,
		OriginalTargetWeight: originalTarget,
		FlightMaterialValue:  flightMaterial,
	}
	var resp FineTimeResponse
	raw, err := c.post(fineTimePath, &req, &resp)
	if err != nil {
		return nil, err
	}
	if resp.FineFlowRate == nil {
		resp.FineFlowRate = ExtractFlowRate(raw, resp.Message)
	}
	return &resp, nil
}

// AdaptiveLearning submits one full-cycle trial.
func (c *Client) AdaptiveLearning(targetWeight float64, totalCycleMs int64, coarseTimeMs int64,
	errorValue float64, coarseAdvance float64, fallValue float64, flowRate *float64) (*AdaptiveLearningResponse, error) {
	req := AdaptiveLearningRequest{
		AnalysisType:         "adaptive_learning",
		ClientVersion:        configs.AnalysisClientVersion,
		TargetWeight:         targetWeight,
		ActualTotalCycleMs:   totalCycleMs,
		ActualCoarseTimeMs:   coarseTimeMs,
		ErrorValue:           errorValue,
		CurrentCoarseAdvance: coarseAdvance,
		CurrentFallValue:     fallValue,
		FineFlowRate:         flowRate,
	}
	var resp AdaptiveLearningResponse
	if _, err := c.post(adaptiveLearningPath, &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
