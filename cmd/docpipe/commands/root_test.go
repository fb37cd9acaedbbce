package commands

import "testing"

func TestNewRootCmd_RegistersSubcommands(t *testing.T) {
	root := NewRootCmd()
	if root.Use != "docpipe" {
		t.Errorf("expected Use=docpipe, got %s", root.Use)
	}

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"crawl", "embed", "upload", "pipeline"} {
		if !names[want] {
			t.Errorf("expected subcommand %q to be registered", want)
		}
	}
}
