package main

import (
	"bytes"
	"strings"
	"testing"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "atlas") {
		t.Errorf("output = %q", out)
	}
}

func TestToolsListWithoutIntegrations(t *testing.T) {
	out, err := runCommand(t, "tools", "list")
	if err != nil {
		t.Fatalf("tools list: %v", err)
	}
	if !strings.Contains(out, "no tools registered") {
		t.Errorf("output = %q", out)
	}
}

func TestResolveConfigPath(t *testing.T) {
	if got := resolveConfigPath("explicit.yaml"); got != "explicit.yaml" {
		t.Errorf("flag ignored: %q", got)
	}
	t.Setenv("ATLAS_CONFIG", "/etc/atlas.yaml")
	if got := resolveConfigPath(""); got != "/etc/atlas.yaml" {
		t.Errorf("env ignored: %q", got)
	}
}
