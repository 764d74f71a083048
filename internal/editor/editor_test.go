package editor

import (
	"testing"

	"tuick/internal/block"
)

func TestResolveVscodeUsesLineColSyntax(t *testing.T) {
	t.Setenv("TUICK_EDITOR", "code")
	t.Setenv("EDITOR", "")

	cmd, args := Resolve("a.py", block.Location{Line: block.Set(3), Col: block.Set(5)})
	if cmd != "code" {
		t.Errorf("command = %q, want code", cmd)
	}
	want := []string{"-g", "a.py:3:5"}
	if len(args) != len(want) || args[0] != want[0] || args[1] != want[1] {
		t.Errorf("args = %v, want %v", args, want)
	}
}

func TestResolveOmitsColumnWhenAbsent(t *testing.T) {
	t.Setenv("TUICK_EDITOR", "subl")
	t.Setenv("EDITOR", "")

	_, args := Resolve("a.py", block.Location{Line: block.Set(3)})
	if len(args) != 1 || args[0] != "a.py:3" {
		t.Errorf("args = %v, want [a.py:3]", args)
	}
}

func TestResolveFallsBackForUnknownEditor(t *testing.T) {
	t.Setenv("TUICK_EDITOR", "")
	t.Setenv("EDITOR", "nano")

	cmd, args := Resolve("a.py", block.Location{Line: block.Set(1)})
	if cmd != "nano" {
		t.Errorf("command = %q, want nano", cmd)
	}
	if len(args) != 1 || args[0] != "a.py" {
		t.Errorf("args = %v, want [a.py]", args)
	}
}

func TestResolveDefaultsToVi(t *testing.T) {
	t.Setenv("TUICK_EDITOR", "")
	t.Setenv("EDITOR", "")

	cmd, _ := Resolve("a.py", block.Location{})
	if cmd != "vi" {
		t.Errorf("command = %q, want vi", cmd)
	}
}
