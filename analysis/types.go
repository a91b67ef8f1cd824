package analysis

// Request and response shapes for the four stage endpoints plus the initial
// weight recommendation. Field names follow the service contract verbatim;
// optional response values are pointers so absence is distinguishable.

type WeightRequest struct {
	AnalysisType  string  `json:"analysis_type"`
	ClientVersion string  `json:"client_version"`
	TargetWeight  float64 `json:"target_weight"`
}

type WeightResponse struct {
	Success     bool     `json:"success"`
	Message     string   `json:"message"`
	CoarseSpeed *float64 `json:"coarse_speed,omitempty"`
	FineSpeed   *float64 `json:"fine_speed,omitempty"`
}

type CoarseTimeRequest struct {
	AnalysisType       string  `json:"analysis_type"`
	ClientVersion      string  `json:"client_version"`
	TargetWeight       float64 `json:"target_weight"`
	CoarseTimeMs       int64   `json:"coarse_time_ms"`
	CurrentCoarseSpeed float64 `json:"current_coarse_speed"`
}

type CoarseTimeResponse struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message"`
	IsCompliant    bool     `json:"is_compliant"`
	NewCoarseSpeed *float64 `json:"new_coarse_speed,omitempty"`
}

type FlightMaterialRequest struct {
	AnalysisType    string    `json:"analysis_type"`
	ClientVersion   string    `json:"client_version"`
	TargetWeight    float64   `json:"target_weight"`
	RecordedWeights []float64 `json:"recorded_weights"`
}

type FlightMaterialResponse struct {
	Success               bool      `json:"success"`
	Message               string    `json:"message"`
	AvgFlightMaterial     float64   `json:"avg_flight_material"`
	FlightMaterialDetails []float64 `json:"flight_material_details"`
}

type FineTimeRequest struct {
	AnalysisType         string  `json:"analysis_type"`
	ClientVersion        string  `json:"client_version"`
	TargetWeight         float64 `json:"target_weight"`
	FineTimeMs           int64   `json:"fine_time_ms"`
	CurrentFineSpeed     float64 `json:"current_fine_speed"`
	OriginalTargetWeight float64 `json:"original_target_weight"`
	FlightMaterialValue  float64 `json:"flight_material_value"`
}

type FineTimeResponse struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	IsCompliant   bool     `json:"is_compliant"`
	NewFineSpeed  *float64 `json:"new_fine_speed,omitempty"`
	CoarseAdvance *float64 `json:"coarse_advance,omitempty"`
	FineFlowRate  *float64 `json:"fine_flow_rate,omitempty"`
}

type AdaptiveParams struct {
	CoarseAdvance *float64 `json:"coarse_advance,omitempty"`
	FallValue     *float64 `json:"fall_value,omitempty"`
}

type AdaptiveLearningRequest struct {
	AnalysisType         string   `json:"analysis_type"`
	ClientVersion        string   `json:"client_version"`
	TargetWeight         float64  `json:"target_weight"`
	ActualTotalCycleMs   int64    `json:"actual_total_cycle_ms"`
	ActualCoarseTimeMs   int64    `json:"actual_coarse_time_ms"`
	ErrorValue           float64  `json:"error_value"`
	CurrentCoarseAdvance float64  `json:"current_coarse_advance"`
	CurrentFallValue     float64  `json:"current_fall_value"`
	FineFlowRate         *float64 `json:"fine_flow_rate,omitempty"`
}

type AdaptiveLearningResponse struct {
	Success     bool            `json:"success"`
	Message     string          `json:"message"`
	IsCompliant bool            `json:"is_compliant"`
	NewParams   *AdaptiveParams `json:"new_params,omitempty"`
}

// validationBody is the 422 payload shape.
type validationBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
