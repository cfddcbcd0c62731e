package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Analysis holds the machine-learning fields of an assessment result.
//
// The backend names several fields inconsistently. Decoding picks the first
// present key in this order:
//
//	AssessmentID    assessment_id > id > timestamp
//	Diagnosis       diagnosis > classification > prediction
//	SeverityScore   severity_score > pasi_score > score
//	SeverityLevel   severity_level > severity
//	AnnotatedImage  annotated_image_url > annotated_image > image_url
type Analysis struct {
	AssessmentID   string  `json:"assessment_id"`
	Timestamp      string  `json:"timestamp,omitempty"`
	Diagnosis      string  `json:"diagnosis,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	SeverityScore  float64 `json:"severity_score"`
	SeverityLevel  string  `json:"severity_level,omitempty"`
	AnnotatedImage string  `json:"annotated_image,omitempty"` // URL or data URI
}

// Recommendations holds the narrative part of a result.
type Recommendations struct {
	Summary    string   `json:"summary,omitempty"`
	NextSteps  []string `json:"next_steps"`
	Lifestyle  []string `json:"lifestyle,omitempty"`
	Treatments []string `json:"treatments,omitempty"`
}

// AnalysisResponse is the body of POST /analyze/ and of the result detail
// endpoint. NextSteps prefers a top-level next_steps over
// recommendations.next_steps.
type AnalysisResponse struct {
	Analysis        Analysis        `json:"analysis"`
	Recommendations Recommendations `json:"recommendations"`
}

// HistoryEntry summarizes one past assessment.
type HistoryEntry struct {
	Analysis
}

// ResultBundle is what the result bridge carries between submission and the
// results view.
type ResultBundle struct {
	Analysis        Analysis        `json:"analysis"`
	Recommendations Recommendations `json:"recommendations"`
	CreatedAt       time.Time       `json:"created_at"`
}

type analysisWire struct {
	AssessmentID      flexString `json:"assessment_id"`
	ID                flexString `json:"id"`
	Timestamp         flexString `json:"timestamp"`
	Diagnosis         flexString `json:"diagnosis"`
	Classification    flexString `json:"classification"`
	Prediction        flexString `json:"prediction"`
	Confidence        *float64   `json:"confidence"`
	SeverityScore     *float64   `json:"severity_score"`
	PasiScore         *float64   `json:"pasi_score"`
	Score             *float64   `json:"score"`
	SeverityLevel     flexString `json:"severity_level"`
	Severity          flexString `json:"severity"`
	AnnotatedImageURL flexString `json:"annotated_image_url"`
	AnnotatedImage    flexString `json:"annotated_image"`
	ImageURL          flexString `json:"image_url"`
}

func (w *analysisWire) analysis() Analysis {
	return Analysis{
		AssessmentID:   first(w.AssessmentID, w.ID, w.Timestamp),
		Timestamp:      string(w.Timestamp),
		Diagnosis:      first(w.Diagnosis, w.Classification, w.Prediction),
		Confidence:     firstFloat(w.Confidence),
		SeverityScore:  firstFloat(w.SeverityScore, w.PasiScore, w.Score),
		SeverityLevel:  first(w.SeverityLevel, w.Severity),
		AnnotatedImage: first(w.AnnotatedImageURL, w.AnnotatedImage, w.ImageURL),
	}
}

// UnmarshalJSON decodes the flat backend form using the documented
// precedence.
func (a *Analysis) UnmarshalJSON(data []byte) error {
	var w analysisWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = w.analysis()
	return nil
}

// UnmarshalJSON decodes a backend response. The ML fields may be flat or
// nested under "analysis"; recommendations may be an object, a list of next
// steps or a plain narrative string.
func (r *AnalysisResponse) UnmarshalJSON(data []byte) error {
	var w struct {
		analysisWire
		Nested          json.RawMessage `json:"analysis"`
		NextSteps       []string        `json:"next_steps"`
		Summary         flexString      `json:"summary"`
		Recommendations json.RawMessage `json:"recommendations"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if nested := bytes.TrimSpace(w.Nested); len(nested) > 0 && nested[0] == '{' {
		if err := json.Unmarshal(nested, &w.analysisWire); err != nil {
			return err
		}
	}

	var recs Recommendations
	raw := bytes.TrimSpace(w.Recommendations)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &recs.Summary); err != nil {
			return err
		}
	case raw[0] == '[':
		if err := json.Unmarshal(raw, &recs.NextSteps); err != nil {
			return err
		}
	default:
		if err := json.Unmarshal(raw, &recs); err != nil {
			return err
		}
	}

	if w.NextSteps != nil {
		recs.NextSteps = w.NextSteps
	}
	if recs.NextSteps == nil {
		recs.NextSteps = []string{}
	}
	if recs.Summary == "" {
		recs.Summary = string(w.Summary)
	}

	r.Analysis = w.analysis()
	r.Recommendations = recs
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}

func first(values ...flexString) string {
	for _, v := range values {
		if v != "" {
			return string(v)
		}
	}
	return ""
}

func firstFloat(values ...*float64) float64 {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return 0
}
