package model

import (
	"regexp"

	"github.com/m-mizutani/goerr/v2"
)

type Category string

const (
	CategoryTranscription Category = "transcription"
	CategoryTranslation   Category = "translation"
	CategoryOCR           Category = "ocr"
	CategorySummarization Category = "summarization"
	CategoryDiagram       Category = "diagram"
)

// placeholderPtn matches `{{ .name }}` references in argument strings.
var placeholderPtn = regexp.MustCompile(`\{\{\s*\.([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// reservedPlaceholders are resolved at discovery time, not by upstream steps.
var reservedPlaceholders = map[string]bool{
	"TargetLang": true,
	"SourceLang": true,
}

// AgentDescriptor describes one independently runnable agent program.
// Descriptors are built once at discovery time and treated as read-only
// for the rest of the session.
type AgentDescriptor struct {
	Name        string
	Description string
	Executable  string
	WorkingDir  string
	Env         map[string]string
	Args        []string
	Keywords    []string
	Category    Category
}

// Validate checks if the descriptor is usable
func (a *AgentDescriptor) Validate() error {
	if a.Name == "" {
		return goerr.New("agent name is empty")
	}
	if a.Executable == "" {
		return goerr.New("agent executable is empty", goerr.V("name", a.Name))
	}
	return nil
}

// Placeholders returns the placeholder names referenced by the agent's
// arguments, excluding discovery-time language placeholders.
func (a *AgentDescriptor) Placeholders() []string {
	seen := map[string]bool{}
	var names []string
	for _, arg := range a.Args {
		for _, m := range placeholderPtn.FindAllStringSubmatch(arg, -1) {
			name := m[1]
			if reservedPlaceholders[name] || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// ExpandPlaceholders replaces `{{ .name }}` references that have an
// entry in values, leaving unknown references intact so that later
// passes can resolve them.
func ExpandPlaceholders(s string, values map[string]string) string {
	return placeholderPtn.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderPtn.FindStringSubmatch(m)[1]
		if v, ok := values[name]; ok {
			return v
		}
		return m
	})
}

// DescriptiveText returns the text used to embed this agent for
// semantic ranking.
func (a *AgentDescriptor) DescriptiveText() string {
	text := a.Name + ": " + a.Description
	for _, kw := range a.Keywords {
		text += " " + kw
	}
	if a.Category != "" {
		text += " (" + string(a.Category) + ")"
	}
	return text
}
