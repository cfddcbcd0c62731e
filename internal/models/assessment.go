package models

import (
	"fmt"
	"time"
)

// Section identifiers of the questionnaire.
const (
	SectionDemographics = "demographics"
	SectionOnset        = "onset"
	SectionImpact       = "impact"
)

// Sections lists the section ids in screen order.
var Sections = []string{SectionDemographics, SectionOnset, SectionImpact}

// Severity sliders range from MinSeverity to MaxSeverity inclusive.
const (
	MinSeverity = 0
	MaxSeverity = 10
)

// Demographics holds the first screen: who the user is and what they see.
type Demographics struct {
	Age           string   `json:"age"`
	Gender        string   `json:"gender"`
	SkinType      string   `json:"skinType"`
	Symptoms      []string `json:"symptoms"`
	AffectedAreas []string `json:"affectedAreas"`
	Itching       int      `json:"itching"`
	Pain          int      `json:"pain"`
}

// Onset holds the second screen: history and lesion severity.
type Onset struct {
	OnsetTime     string   `json:"onsetTime"`
	Progression   string   `json:"progression"`
	FamilyHistory string   `json:"familyHistory"`
	Triggers      []string `json:"triggers"`
	Redness       int      `json:"redness"`
	Scaling       int      `json:"scaling"`
	Thickness     int      `json:"thickness"`
}

// Impact holds the third screen: quality of life and treatment.
type Impact struct {
	DailyImpact       string   `json:"dailyImpact"`
	SleepImpact       string   `json:"sleepImpact"`
	EmotionalImpact   string   `json:"emotionalImpact"`
	Treatments        []string `json:"treatments"`
	Medications       []string `json:"medications"`
	TreatmentResponse string   `json:"treatmentResponse"`
	Notes             string   `json:"notes"`
}

// Assessment is the three-section questionnaire aggregate. It is also the
// shape of the durable record.
type Assessment struct {
	Demographics Demographics `json:"demographics"`
	Onset        Onset        `json:"onset"`
	Impact       Impact       `json:"impact"`
}

// NewAssessment returns the documented defaults: empty strings, empty lists
// and zero severities.
func NewAssessment() Assessment {
	var a Assessment
	a.Normalize()
	return a
}

// Normalize replaces nil lists with empty ones.
func (a *Assessment) Normalize() {
	a.Demographics.Symptoms = nonNil(a.Demographics.Symptoms)
	a.Demographics.AffectedAreas = nonNil(a.Demographics.AffectedAreas)
	a.Onset.Triggers = nonNil(a.Onset.Triggers)
	a.Impact.Treatments = nonNil(a.Impact.Treatments)
	a.Impact.Medications = nonNil(a.Impact.Medications)
}

// Clone returns a deep copy.
func (a Assessment) Clone() Assessment {
	c := a
	c.Demographics.Symptoms = cloneList(a.Demographics.Symptoms)
	c.Demographics.AffectedAreas = cloneList(a.Demographics.AffectedAreas)
	c.Onset.Triggers = cloneList(a.Onset.Triggers)
	c.Impact.Treatments = cloneList(a.Impact.Treatments)
	c.Impact.Medications = cloneList(a.Impact.Medications)
	return c
}

// Validate checks severity ranges. Empty answers are allowed while the
// questionnaire is being filled in.
func (a *Assessment) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"demographics.itching", a.Demographics.Itching},
		{"demographics.pain", a.Demographics.Pain},
		{"onset.redness", a.Onset.Redness},
		{"onset.scaling", a.Onset.Scaling},
		{"onset.thickness", a.Onset.Thickness},
	}
	for _, c := range checks {
		if c.value < MinSeverity || c.value > MaxSeverity {
			return fmt.Errorf("%s must be between %d and %d", c.name, MinSeverity, MaxSeverity)
		}
	}
	return nil
}

// MissingRequired returns the dotted names of answers needed before
// submission, or nil when the questionnaire can be submitted.
func (a *Assessment) MissingRequired() []string {
	var missing []string
	if a.Demographics.Age == "" {
		missing = append(missing, "demographics.age")
	}
	if a.Demographics.Gender == "" {
		missing = append(missing, "demographics.gender")
	}
	if a.Onset.OnsetTime == "" {
		missing = append(missing, "onset.onsetTime")
	}
	return missing
}

// Snapshot is a point-in-time copy of the questionnaire.
type Snapshot struct {
	Assessment
	GeneratedAt time.Time `json:"generatedAt"`
}

// Flatten merges the three sections into the single field map submitted to
// the analysis backend. Field names do not collide across sections.
func (s *Snapshot) Flatten() map[string]any {
	d, o, i := s.Demographics, s.Onset, s.Impact
	return map[string]any{
		"age":               d.Age,
		"gender":            d.Gender,
		"skinType":          d.SkinType,
		"symptoms":          cloneList(d.Symptoms),
		"affectedAreas":     cloneList(d.AffectedAreas),
		"itching":           d.Itching,
		"pain":              d.Pain,
		"onsetTime":         o.OnsetTime,
		"progression":       o.Progression,
		"familyHistory":     o.FamilyHistory,
		"triggers":          cloneList(o.Triggers),
		"redness":           o.Redness,
		"scaling":           o.Scaling,
		"thickness":         o.Thickness,
		"dailyImpact":       i.DailyImpact,
		"sleepImpact":       i.SleepImpact,
		"emotionalImpact":   i.EmotionalImpact,
		"treatments":        cloneList(i.Treatments),
		"medications":       cloneList(i.Medications),
		"treatmentResponse": i.TreatmentResponse,
		"notes":             i.Notes,
		"generatedAt":       s.GeneratedAt.UTC().Format(time.RFC3339),
	}
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func cloneList(list []string) []string {
	out := make([]string, len(list))
	copy(out, list)
	return out
}
