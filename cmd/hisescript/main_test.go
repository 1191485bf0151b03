package main

import "testing"

func TestParseNotes(t *testing.T) {
	got, err := parseNotes("60, 64,67")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != 60 || got[2] != 67 {
		t.Errorf("notes = %v", got)
	}
	if _, err := parseNotes("60,200"); err == nil {
		t.Error("expected out of range note to fail")
	}
}

func TestIncomplete(t *testing.T) {
	for src, want := range map[string]bool{
		"var x = 1;":                 false,
		"function onNoteOn() {":      true,
		"function onNoteOn() {\n}":   false,
		"Console.print(\"a\")":       false,
		"var a = [1, 2,":             true,
		"/* open comment":            true,
		"Console.print(Math.abs(-1)": true,
	} {
		if got := incomplete(src); got != want {
			t.Errorf("incomplete(%q) = %v, want %v", src, got, want)
		}
	}
}

func TestBreakpointFlag(t *testing.T) {
	var b breakpointList
	if err := b.Set("onNoteOn:4"); err != nil {
		t.Fatal(err)
	}
	if err := b.Set("7"); err != nil {
		t.Fatal(err)
	}
	if b.String() != "onNoteOn:4,onInit:7" {
		t.Errorf("breakpoints = %s", b.String())
	}
	if err := b.Set("onInit:x"); err == nil {
		t.Error("expected an invalid line to fail")
	}
}
