package model

type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Diagnostic is a structured record of something a system noticed. The
// world flushes them to the configured loggers at the end of each tick.
type Diagnostic struct {
	Tick     uint64         `json:"tick"`
	Severity Severity       `json:"severity"`
	Code     string         `json:"code"`
	Subject  string         `json:"subject,omitempty"`
	Message  string         `json:"message"`
	Fields   map[string]any `json:"fields,omitempty"`
}

func (s *State) Report(sev Severity, code, subject, msg string, fields map[string]any) {
	s.diags = append(s.diags, Diagnostic{
		Tick:     s.now,
		Severity: sev,
		Code:     code,
		Subject:  subject,
		Message:  msg,
		Fields:   fields,
	})
	s.diagTotal++
}

func (s *State) Warn(code, subject, msg string, fields map[string]any) {
	s.Report(SeverityWarn, code, subject, msg, fields)
}

// DrainDiagnostics hands over everything reported since the last drain.
func (s *State) DrainDiagnostics() []Diagnostic {
	out := s.diags
	s.diags = nil
	return out
}

// PendingDiagnostics is a read-only view of the current tick's records.
func (s *State) PendingDiagnostics() []Diagnostic { return s.diags }

func (s *State) DiagnosticsTotal() uint64 { return s.diagTotal }
