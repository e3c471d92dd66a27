package model

// ReviewFinding is a single issue reported by the reviewer model.
// LineHint is untrusted: the model may report a line that shifted between
// hunks or never appears in the diff at all. The placement engine resolves it
// against the diff position index before anything is posted.
type ReviewFinding struct {
	FilePath string
	LineHint int
	Severity Severity
	Category string
	Message  string
}

// PlanSelection is the planner model's triage output: the subset of changed
// files worth deep review, in priority order.
type PlanSelection struct {
	Files []string
}
