package main

import (
	"strings"
	"testing"
)

func TestNewTableRendersHeadersAndRows(t *testing.T) {
	out := newTable().
		Headers("LEVEL", "COUNT").
		Rows([]string{"INFO", "3"}, []string{"ERROR", "1"}).
		String()

	for _, want := range []string{"LEVEL", "COUNT", "INFO", "ERROR"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected rendered table to contain %q, got:\n%s", want, out)
		}
	}
}
