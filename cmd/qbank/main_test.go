package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type cliEnv struct {
	dir    string
	dbPath string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	dir := t.TempDir()
	return cliEnv{dir: dir, dbPath: filepath.Join(dir, "qbank.sqlite")}
}

func (e cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := newCommand()
	cmd.Writer = &buf
	cmd.ErrWriter = &buf
	full := append([]string{"qbank", "--db-path", e.dbPath, "--log-level", "error"}, args...)
	err := cmd.Run(context.Background(), full)
	return buf.String(), err
}

func (e cliEnv) writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestTemplateImportListRoundTrip(t *testing.T) {
	env := newCLIEnv(t)
	tmpl := filepath.Join(env.dir, "template.xlsx")

	if _, err := env.run(t, "template", tmpl); err != nil {
		t.Fatalf("template: %v", err)
	}
	out, err := env.run(t, "import", "--all-or-nothing", tmpl)
	if err != nil {
		t.Fatalf("import: %v\n%s", err, out)
	}
	if !strings.Contains(out, "All questions added successfully!") {
		t.Fatalf("unexpected import output: %q", out)
	}

	out, err = env.run(t, "list", "--prefix", "example")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "example0199\tmultichoice") || !strings.Contains(out, "example0899\tcalculated") {
		t.Fatalf("unexpected list output: %q", out)
	}

	out, err = env.run(t, "import", tmpl)
	if !errors.Is(err, errImportFailed) {
		t.Fatalf("expected import failure on duplicates, got %v", err)
	}
	if !strings.Contains(out, "Name already exists in database.") {
		t.Fatalf("expected duplicate report, got %q", out)
	}
}

func TestValidateReportsErrors(t *testing.T) {
	env := newCLIEnv(t)
	path := env.writeFile(t, "bad.json", `[{"name":"phys0199","moodle_type":"hotspot"}]`)

	out, err := env.run(t, "validate", path)
	if !errors.Is(err, errValidationFailed) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if !strings.Contains(out, "phys0199\n  moodle_type: Unknown") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestEditRemoveRestoreHistory(t *testing.T) {
	env := newCLIEnv(t)
	tmpl := filepath.Join(env.dir, "template.json")
	if _, err := env.run(t, "template", tmpl); err != nil {
		t.Fatalf("template: %v", err)
	}
	if _, err := env.run(t, "import", tmpl); err != nil {
		t.Fatalf("import: %v", err)
	}

	out, err := env.run(t, "edit", "--set", "points=3", "--set", "question=New text, with comma", "--history", "--validate", "example0499")
	if err != nil || !strings.Contains(out, "Updated example0499.") {
		t.Fatalf("edit: %v %q", err, out)
	}
	out, err = env.run(t, "show", "example0499")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, `"points": 3`) || !strings.Contains(out, `"question": "New text, with comma"`) || !strings.Contains(out, `"points_old": 1`) {
		t.Fatalf("unexpected question: %s", out)
	}

	if _, err := env.run(t, "edit", "--set", "points=0", "--validate", "example0499"); !errors.Is(err, errValidationFailed) {
		t.Fatalf("expected invalid edit to fail, got %v", err)
	}

	out, err = env.run(t, "remove", "--archive", "example0499")
	if err != nil || !strings.Contains(out, "Archived example0499.") {
		t.Fatalf("remove: %v %q", err, out)
	}
	if _, err := env.run(t, "show", "example0499"); err == nil {
		t.Fatal("expected removed question to be gone")
	}
	if _, err := env.run(t, "show", "--collection", "archive", "example0499"); err != nil {
		t.Fatalf("expected archived copy: %v", err)
	}
	out, err = env.run(t, "restore", "example0499")
	if err != nil || !strings.Contains(out, "Restored example0499.") {
		t.Fatalf("restore: %v %q", err, out)
	}

	out, err = env.run(t, "history", "example0499")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected created, updated, deleted and created events, got %q", out)
	}
	if !strings.Contains(lines[0], "question.created") || !strings.Contains(lines[2], "question.updated\tcli\thistory,points,question") {
		t.Fatalf("unexpected history: %q", out)
	}
}

func TestMissingQuestionIsNotAnError(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(t, "remove", "none0199")
	if err != nil || !strings.Contains(out, "No question named none0199.") {
		t.Fatalf("remove: %v %q", err, out)
	}
	out, err = env.run(t, "edit", "--set", "points=2", "none0199")
	if err != nil || !strings.Contains(out, "No question named none0199.") {
		t.Fatalf("edit: %v %q", err, out)
	}
}

func TestConfigFileCategoriesEnableNamingCheck(t *testing.T) {
	env := newCLIEnv(t)
	cfgPath := env.writeFile(t, "qbank.yaml", "categories: [phys]\n")
	tmpl := filepath.Join(env.dir, "template.json")
	if _, err := env.run(t, "template", tmpl); err != nil {
		t.Fatalf("template: %v", err)
	}

	out, err := env.run(t, "--config", cfgPath, "validate", tmpl)
	if !errors.Is(err, errValidationFailed) || !strings.Contains(out, "name: Wrong naming scheme") {
		t.Fatalf("expected naming failures, got %v %q", err, out)
	}

	out, err = env.run(t, "--config", cfgPath, "next-name", "--family", "parent", "phys")
	if err != nil || strings.TrimSpace(out) != "phys0100" {
		t.Fatalf("next-name: %v %q", err, out)
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	env := newCLIEnv(t)
	if _, err := env.run(t, "--log-format", "xml", "list"); err == nil || !strings.Contains(err.Error(), "log_format") {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestParseAssignments(t *testing.T) {
	fields, err := parseAssignments([]string{"points=2", "tags=[\"a\",\"b\"]", "question=plain text"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := fields["tags"].([]any); !ok {
		t.Fatalf("expected list value, got %#v", fields["tags"])
	}
	if fields["question"] != "plain text" {
		t.Fatalf("expected text value, got %#v", fields["question"])
	}
	if _, err := parseAssignments([]string{"novalue"}); err == nil {
		t.Fatal("expected error for missing '='")
	}
}

func TestAPIKeyAddListRevoke(t *testing.T) {
	env := newCLIEnv(t)
	if _, err := env.run(t, "apikey", "add", "editor", "tok-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	out, err := env.run(t, "apikey", "list")
	if err != nil || !strings.Contains(out, "editor\t") || !strings.Contains(out, "\tactive\tnever") {
		t.Fatalf("list: %v %q", err, out)
	}
	if _, err := env.run(t, "apikey", "revoke", "editor"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	out, _ = env.run(t, "apikey", "list")
	if !strings.Contains(out, "\trevoked\t") {
		t.Fatalf("expected revoked key, got %q", out)
	}
	if _, err := env.run(t, "apikey", "revoke", "editor"); err == nil {
		t.Fatal("expected error revoking an unknown name")
	}
}
