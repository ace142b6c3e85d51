package main

import (
	"bytes"
	"testing"
)

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, 1.5, 42, []float32{0.25, 0.0625})

	want := "\nTime: 1.500000\nResult: 42 0.250000 0.062500\n"
	if got := buf.String(); got != want {
		t.Fatalf("report = %q, want %q", got, want)
	}
}
