package catalog_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/owlet/pkg/catalog"
)

func writeManifest(t *testing.T, root, sub, name, content string) {
	t.Helper()
	dir := filepath.Join(root, sub)
	gt.NoError(t, os.MkdirAll(dir, 0755))
	gt.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

const transcriberManifest = `name: transcriber
description: Convert lecture audio into text
executable: bin/transcribe
args: ["--lang", "{{ .SourceLang }}", "--audio", "{{ .audio }}"]
keywords: [speech, audio, transcription]
category: transcription
`

const translatorManifest = `name: translator
description: Translate text between languages
executable: bin/translate
args: ["--to", "{{ .TargetLang }}", "--input", "{{ .transcript }}"]
keywords: [translate, language]
category: translation
`

func TestLoadSkipsMalformedManifest(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	writeManifest(t, root, "agents", "transcriber.yml", transcriberManifest)
	writeManifest(t, root, "agents", "translator.yml", translatorManifest)
	writeManifest(t, root, "agents", "broken.yml", "name: [unclosed\n  :::")

	c, err := catalog.Load(ctx, root)
	gt.NoError(t, err)

	// Exactly two descriptors plus one recorded error
	gt.A(t, c.Agents()).Length(2)
	gt.A(t, c.Errors()).Length(1)
	gt.S(t, c.Errors()[0].Path).Contains("broken.yml")
}

func TestLoadDeterministicOrder(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	// Written out of lexicographic order on purpose
	writeManifest(t, root, "agents", "translator.yml", translatorManifest)
	writeManifest(t, root, "agents", "transcriber.yml", transcriberManifest)

	c, err := catalog.Load(ctx, root)
	gt.NoError(t, err)

	agents := c.Agents()
	gt.A(t, agents).Length(2)
	gt.Equal(t, agents[0].Name, "transcriber")
	gt.Equal(t, agents[1].Name, "translator")
}

func TestLoadSubstitutesLanguages(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	writeManifest(t, root, "agents", "translator.yml", translatorManifest)

	c, err := catalog.Load(ctx, root, catalog.WithLanguages("ja", "en"))
	gt.NoError(t, err)

	agent, ok := c.Agent("translator")
	gt.True(t, ok)
	gt.Equal(t, agent.Args[1], "ja")
	// Output placeholders stay untouched for the execution engine
	gt.Equal(t, agent.Args[3], "{{ .transcript }}")
}

func TestLoadWorkflow(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	writeManifest(t, root, "agents", "transcriber.yml", transcriberManifest)
	writeManifest(t, root, "agents", "translator.yml", translatorManifest)
	writeManifest(t, root, "workflows", "lecture.yml", `name: lecture-translation
description: Transcribe a lecture recording and translate it
steps: [transcriber, translator]
outputs:
  transcriber: [transcript]
keywords: [lecture, audio, translate]
`)

	c, err := catalog.Load(ctx, root)
	gt.NoError(t, err)
	gt.A(t, c.Errors()).Length(0)

	wf, ok := c.Workflow("lecture-translation")
	gt.True(t, ok)
	gt.A(t, wf.Steps).Length(2)
	gt.Equal(t, wf.Steps[0].Name, "transcriber")
	gt.Equal(t, wf.Outputs["transcriber"], []string{"transcript"})
	gt.Equal(t, c.Size(), 3)
}

func TestLoadWorkflowUnknownAgent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	writeManifest(t, root, "agents", "transcriber.yml", transcriberManifest)
	writeManifest(t, root, "workflows", "bad.yml", `name: bad-workflow
steps: [transcriber, nonexistent]
`)

	c, err := catalog.Load(ctx, root)
	gt.NoError(t, err)

	gt.A(t, c.Workflows()).Length(0)
	gt.A(t, c.Errors()).Length(1)
}

func TestLoadWorkflowUnsatisfiedPlaceholder(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	writeManifest(t, root, "agents", "transcriber.yml", transcriberManifest)
	writeManifest(t, root, "agents", "translator.yml", translatorManifest)

	// translator needs {{ .transcript }} but no step declares it
	writeManifest(t, root, "workflows", "broken.yml", `name: broken
steps: [transcriber, translator]
`)

	c, err := catalog.Load(ctx, root)
	gt.NoError(t, err)
	gt.A(t, c.Workflows()).Length(0)
	gt.A(t, c.Errors()).Length(1)
}

func TestLoadEmptyRoot(t *testing.T) {
	ctx := context.Background()

	c, err := catalog.Load(ctx, t.TempDir())
	gt.NoError(t, err)
	gt.Equal(t, c.Size(), 0)
	gt.A(t, c.Errors()).Length(0)
}
