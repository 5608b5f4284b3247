package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/opsleuth/sleuth/pkg/investigation"
)

// validate is the shared validator instance. Field names in validation
// errors are reported by json tag so feedback prompts reference the names
// the LLM actually produced.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FlexStrings decodes either a JSON array of strings or a bare string
// (coerced to a one-element list). null decodes to nil.
type FlexStrings []string

func (f *FlexStrings) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*f = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if single == "" {
		*f = nil
		return nil
	}
	*f = []string{single}
	return nil
}

// decode extracts JSON from the response text and unmarshals it into out.
func decode(shape, text string, out any) *ParseError {
	raw := ExtractJSON(text)
	if raw == "" {
		return &ParseError{Kind: KindNoJSON, Shape: shape, Cause: errors.New("no JSON found")}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &ParseError{Kind: KindInvalidJSON, Shape: shape, Cause: err}
	}
	return nil
}

// check runs struct validation and maps validator tags onto ParseError kinds.
func check(shape string, v any) *ParseError {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ParseError{Kind: KindInvalidJSON, Shape: shape, Cause: err}
	}
	fe := verrs[0]
	kind := KindMissingField
	switch fe.Tag() {
	case "required":
		kind = KindMissingField
	case "oneof":
		kind = KindUnknownEnum
	case "min", "max", "gte", "lte":
		kind = KindOutOfRange
	}
	return &ParseError{Kind: kind, Shape: shape, Field: fe.Field(), Cause: err}
}

type timeWindowWire struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type triageWire struct {
	IncidentID        string         `json:"incident_id"`
	Summary           string         `json:"summary" validate:"required"`
	Severity          string         `json:"severity" validate:"required,oneof=low medium high critical"`
	AffectedServices  FlexStrings    `json:"affected_services"`
	Symptoms          FlexStrings    `json:"symptoms"`
	ErrorMessages     FlexStrings    `json:"error_messages"`
	TimeWindow        timeWindowWire `json:"time_window"`
	InitialHypotheses FlexStrings    `json:"initial_hypotheses"`
}

// ParseTriage parses the triage response shape.
func ParseTriage(text string) (investigation.TriageResult, error) {
	var w triageWire
	if perr := decode("triage", text, &w); perr != nil {
		return investigation.TriageResult{}, perr
	}
	if perr := check("triage", &w); perr != nil {
		return investigation.TriageResult{}, perr
	}
	return investigation.TriageResult{
		IncidentID:        w.IncidentID,
		Summary:           w.Summary,
		Severity:          investigation.Severity(w.Severity),
		AffectedServices:  w.AffectedServices,
		Symptoms:          w.Symptoms,
		ErrorMessages:     w.ErrorMessages,
		TimeWindow:        investigation.TimeWindow{Start: w.TimeWindow.Start, End: w.TimeWindow.End},
		InitialHypotheses: w.InitialHypotheses,
	}, nil
}

type plannedQueryWire struct {
	Type        string         `json:"type" validate:"required"`
	Description string         `json:"description"`
	Service     string         `json:"service"`
	Params      map[string]any `json:"params"`
}

type hypothesisWire struct {
	Statement      string             `json:"statement" validate:"required"`
	Category       string             `json:"category" validate:"omitempty,oneof=infrastructure application dependency configuration capacity security unknown"`
	Priority       float64            `json:"priority" validate:"min=1,max=5"`
	PlannedQueries []plannedQueryWire `json:"planned_queries" validate:"dive"`
	Reasoning      string             `json:"reasoning"`
}

type hypothesesWire struct {
	Hypotheses []hypothesisWire `json:"hypotheses" validate:"required,min=1,dive"`
	Reasoning  string           `json:"reasoning"`
}

// HypothesisSet is the parsed hypothesis-generation response.
type HypothesisSet struct {
	Hypotheses []investigation.HypothesisInput
	Reasoning  string
}

// ParseHypotheses parses the hypothesis-generation response shape.
func ParseHypotheses(text string) (HypothesisSet, error) {
	var w hypothesesWire
	if perr := decode("hypotheses", text, &w); perr != nil {
		return HypothesisSet{}, perr
	}
	if perr := check("hypotheses", &w); perr != nil {
		return HypothesisSet{}, perr
	}
	set := HypothesisSet{Reasoning: w.Reasoning}
	for _, hw := range w.Hypotheses {
		in := investigation.HypothesisInput{
			Statement: hw.Statement,
			Category:  investigation.Category(hw.Category),
			Priority:  int(hw.Priority),
			Reasoning: hw.Reasoning,
		}
		if in.Category == "" {
			in.Category = investigation.CategoryUnknown
		}
		for _, q := range hw.PlannedQueries {
			in.PlannedQueries = append(in.PlannedQueries, investigation.PlannedQuery{
				Type:        q.Type,
				Description: q.Description,
				Service:     q.Service,
				Params:      q.Params,
			})
		}
		set.Hypotheses = append(set.Hypotheses, in)
	}
	return set, nil
}

type evaluationWire struct {
	HypothesisID  string           `json:"hypothesis_id" validate:"required"`
	Evidence      string           `json:"evidence" validate:"required,oneof=pending none weak strong"`
	Confidence    float64          `json:"confidence" validate:"min=0,max=100"`
	Reasoning     string           `json:"reasoning"`
	Action        string           `json:"action" validate:"required,oneof=continue branch prune confirm"`
	Findings      FlexStrings      `json:"findings"`
	SubHypotheses []hypothesisWire `json:"sub_hypotheses" validate:"dive"`
}

// ParseEvaluation parses the evidence-evaluation response shape.
func ParseEvaluation(text string) (investigation.EvidenceEvaluation, error) {
	var w evaluationWire
	if perr := decode("evaluation", text, &w); perr != nil {
		return investigation.EvidenceEvaluation{}, perr
	}
	if perr := check("evaluation", &w); perr != nil {
		return investigation.EvidenceEvaluation{}, perr
	}
	ev := investigation.EvidenceEvaluation{
		HypothesisID: w.HypothesisID,
		Evidence:     investigation.EvidenceStrength(w.Evidence),
		Confidence:   int(w.Confidence),
		Reasoning:    w.Reasoning,
		Action:       investigation.EvaluationAction(w.Action),
		Findings:     w.Findings,
	}
	for _, sub := range w.SubHypotheses {
		in := investigation.HypothesisInput{
			Statement: sub.Statement,
			Category:  investigation.Category(sub.Category),
			Priority:  int(sub.Priority),
			Reasoning: sub.Reasoning,
		}
		if in.Category == "" {
			in.Category = investigation.CategoryUnknown
		}
		for _, q := range sub.PlannedQueries {
			in.PlannedQueries = append(in.PlannedQueries, investigation.PlannedQuery{
				Type: q.Type, Description: q.Description, Service: q.Service, Params: q.Params,
			})
		}
		ev.SubHypotheses = append(ev.SubHypotheses, in)
	}
	return ev, nil
}

type evidenceLinkWire struct {
	Finding  string `json:"finding" validate:"required"`
	Source   string `json:"source"`
	Strength string `json:"strength" validate:"omitempty,oneof=pending none weak strong"`
}

type conclusionWire struct {
	RootCause     string             `json:"root_cause" validate:"required"`
	Confidence    string             `json:"confidence" validate:"required,oneof=low medium high"`
	HypothesisID  string             `json:"hypothesis_id"`
	EvidenceChain []evidenceLinkWire `json:"evidence_chain" validate:"dive"`
	Alternatives  FlexStrings        `json:"alternatives"`
	Unknowns      FlexStrings        `json:"unknowns"`
}

// ParseConclusion parses the conclusion response shape.
func ParseConclusion(text string) (investigation.Conclusion, error) {
	var w conclusionWire
	if perr := decode("conclusion", text, &w); perr != nil {
		return investigation.Conclusion{}, perr
	}
	if perr := check("conclusion", &w); perr != nil {
		return investigation.Conclusion{}, perr
	}
	c := investigation.Conclusion{
		RootCause:    w.RootCause,
		Confidence:   investigation.Confidence(w.Confidence),
		HypothesisID: w.HypothesisID,
		Alternatives: w.Alternatives,
		Unknowns:     w.Unknowns,
	}
	for _, link := range w.EvidenceChain {
		strength := investigation.EvidenceStrength(link.Strength)
		if strength == "" {
			strength = investigation.EvidenceWeak
		}
		c.EvidenceChain = append(c.EvidenceChain, investigation.EvidenceLink{
			Finding: link.Finding, Source: link.Source, Strength: strength,
		})
	}
	return c, nil
}

type remediationStepWire struct {
	ID               string         `json:"id"`
	Action           string         `json:"action" validate:"required"`
	Description      string         `json:"description"`
	Command          string         `json:"command"`
	RollbackCommand  string         `json:"rollback_command"`
	RiskLevel        string         `json:"risk_level" validate:"required,oneof=low medium high critical"`
	RequiresApproval bool           `json:"requires_approval"`
	MatchingSkill    string         `json:"matching_skill"`
	MatchingRunbook  string         `json:"matching_runbook"`
	Parameters       map[string]any `json:"parameters"`
}

type remediationWire struct {
	Steps                 []remediationStepWire `json:"steps" validate:"required,min=1,dive"`
	Monitoring            FlexStrings           `json:"monitoring"`
	EstimatedRecoveryTime string                `json:"estimated_recovery_time"`
}

// ParseRemediation parses the remediation response shape. Steps without an
// id are assigned sequential step_N ids.
func ParseRemediation(text string) (investigation.RemediationPlan, error) {
	var w remediationWire
	if perr := decode("remediation", text, &w); perr != nil {
		return investigation.RemediationPlan{}, perr
	}
	if perr := check("remediation", &w); perr != nil {
		return investigation.RemediationPlan{}, perr
	}
	plan := investigation.RemediationPlan{
		Monitoring:            w.Monitoring,
		EstimatedRecoveryTime: w.EstimatedRecoveryTime,
	}
	for i, sw := range w.Steps {
		id := sw.ID
		if id == "" {
			id = fmt.Sprintf("step_%d", i+1)
		}
		plan.Steps = append(plan.Steps, investigation.RemediationStep{
			ID:               id,
			Action:           sw.Action,
			Description:      sw.Description,
			Command:          sw.Command,
			RollbackCommand:  sw.RollbackCommand,
			RiskLevel:        investigation.RiskLevel(sw.RiskLevel),
			RequiresApproval: sw.RequiresApproval,
			MatchingSkill:    sw.MatchingSkill,
			MatchingRunbook:  sw.MatchingRunbook,
			Parameters:       sw.Parameters,
			Status:           investigation.StepPending,
		})
	}
	return plan, nil
}

// PatternMatch is one recognized pattern in a log-analysis response.
type PatternMatch struct {
	Pattern  string `json:"pattern" validate:"required"`
	Count    int    `json:"count"`
	Severity string `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Example  string `json:"example"`
}

// LogAnalysis is the parsed log-analysis response.
type LogAnalysis struct {
	TotalLines          int            `json:"total_lines"`
	PatternMatches      []PatternMatch `json:"pattern_matches" validate:"dive"`
	SuggestedHypotheses FlexStrings    `json:"suggested_hypotheses"`
	Summary             string         `json:"summary"`
}

// ParseLogAnalysis parses the log-analysis response shape.
func ParseLogAnalysis(text string) (LogAnalysis, error) {
	var w LogAnalysis
	if perr := decode("log_analysis", text, &w); perr != nil {
		return LogAnalysis{}, perr
	}
	if perr := check("log_analysis", &w); perr != nil {
		return LogAnalysis{}, perr
	}
	return w, nil
}
