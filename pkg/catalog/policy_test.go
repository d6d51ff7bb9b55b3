package catalog_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/owlet/pkg/catalog"
)

func TestAdmissionPolicyFiltersAgents(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	writeManifest(t, root, "agents", "transcriber.yml", transcriberManifest)
	writeManifest(t, root, "agents", "translator.yml", translatorManifest)

	policyDir := t.TempDir()
	policy := `package catalog

default allow = false

allow if {
	input.category == "translation"
}
`
	gt.NoError(t, os.WriteFile(filepath.Join(policyDir, "admit.rego"), []byte(policy), 0644))

	c, err := catalog.Load(ctx, root, catalog.WithPolicyDir(policyDir))
	gt.NoError(t, err)

	// Only the translation-category agent is admitted
	gt.A(t, c.Agents()).Length(1)
	gt.Equal(t, c.Agents()[0].Name, "translator")
}

func TestNoPolicyAdmitsEverything(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	writeManifest(t, root, "agents", "transcriber.yml", transcriberManifest)

	// Policy dir exists but holds no .rego files
	c, err := catalog.Load(ctx, root, catalog.WithPolicyDir(t.TempDir()))
	gt.NoError(t, err)
	gt.A(t, c.Agents()).Length(1)
}
