package analysis

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/magiconair/properties/assert"
)

func analysisStub(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL), srv
}

func TestHealth(t *testing.T) {
	c, _ := analysisStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	assert.Equal(t, nil, c.Health())
}

func TestCoarseTimeRequestShape(t *testing.T) {
	c, _ := analysisStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/coarse_time/analyze", r.URL.Path)
		var req CoarseTimeRequest
		assert.Equal(t, nil, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "coarse_time", req.AnalysisType)
		assert.Equal(t, "1.5.1", req.ClientVersion)
		assert.Equal(t, 250.0, req.TargetWeight)
		assert.Equal(t, int64(3200), req.CoarseTimeMs)
		speed := 64.0
		writeJSON(w, CoarseTimeResponse{Success: true, IsCompliant: false, NewCoarseSpeed: &speed})
	})
	resp, err := c.CoarseTime(250.0, 3200, 72.0)
	assert.Equal(t, nil, err)
	assert.Equal(t, false, resp.IsCompliant)
	assert.Equal(t, 64.0, *resp.NewCoarseSpeed)
}

func TestFineTimeResolvesFlowRateFromMessage(t *testing.T) {
	c, _ := analysisStub(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, FineTimeResponse{Success: true, IsCompliant: true,
			Message: "compliant, flow rate 4.5"})
	})
	resp, err := c.FineTime(1200, 25.0, 250.0, 2.1)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, resp.FineFlowRate != nil)
	assert.Equal(t, 4.5, *resp.FineFlowRate)
}

func TestValidationErrorIsFriendly(t *testing.T) {
	c, _ := analysisStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, err := w.Write([]byte(`{"error":"ValidationError: target_weight must be at least 60","field":"target_weight"}`))
		assert.Equal(t, nil, err)
	})
	_, err := c.Weight(10)
	ve, ok := err.(*ValidationError)
	assert.Equal(t, true, ok)
	assert.Equal(t, "target weight must be at least 60", ve.Message)
	assert.Equal(t, "target weight", ve.Field)
}

func TestServerErrorIsTransport(t *testing.T) {
	c, _ := analysisStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := c.AdaptiveLearning(250, 5000, 3000, 0.5, 20, 1, nil)
	te, ok := err.(*TransportError)
	assert.Equal(t, true, ok)
	assert.Equal(t, http.StatusInternalServerError, te.Status)
}

func TestConnectionRefusedIsTransport(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.FlightMaterial(10, []float64{11.2, 11.4, 11.1})
	_, ok := err.(*TransportError)
	assert.Equal(t, true, ok)
}

func TestMalformedSuccessBodyIsTransport(t *testing.T) {
	c, _ := analysisStub(t, func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write([]byte(`{"success":`))
		assert.Equal(t, nil, err)
	})
	_, err := c.Weight(100)
	_, ok := err.(*TransportError)
	assert.Equal(t, true, ok)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	byt, _ := json.Marshal(v)
	_, _ = w.Write(byt)
}
