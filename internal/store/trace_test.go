package store

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestTraceWriter_WriteAndRead(t *testing.T) {
	tmpDir := t.TempDir()
	runID := NewRunID()

	writer, err := NewTraceWriter(tmpDir, runID, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	entries := []TraceEntry{
		{Iteration: 0, Objective: 1.0, GradNorm: 0.5, Timestamp: time.Now()},
		{Iteration: 1, Objective: 0.8, GradNorm: 0.2, Timestamp: time.Now()},
		{Iteration: 2, Objective: 0.6, Timestamp: time.Now(), Params: []float64{1, 2, 3}},
	}
	for _, entry := range entries {
		if err := writer.Write(entry); err != nil {
			t.Fatalf("Failed to write entry: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	tracePath := filepath.Join(tmpDir, "runs", runID, "trace.jsonl")
	if writer.Path() != tracePath {
		t.Errorf("Path = %s, want %s", writer.Path(), tracePath)
	}
	if _, err := os.Stat(tracePath); os.IsNotExist(err) {
		t.Fatalf("Trace file not created: %s", tracePath)
	}

	reader, err := NewTraceReader(tmpDir, runID)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	read, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}
	if len(read) != len(entries) {
		t.Fatalf("Expected %d entries, got %d", len(entries), len(read))
	}
	for i := range entries {
		if read[i].Iteration != entries[i].Iteration || read[i].Objective != entries[i].Objective {
			t.Errorf("Entry %d: got %+v, want %+v", i, read[i], entries[i])
		}
	}
	if len(read[2].Params) != 3 {
		t.Errorf("Params not preserved: %v", read[2].Params)
	}
}

func TestTraceWriter_NonFiniteValues(t *testing.T) {
	tmpDir := t.TempDir()
	runID := NewRunID()

	writer, err := NewTraceWriter(tmpDir, runID, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := writer.Write(TraceEntry{Iteration: 3, Objective: 2, GradNorm: math.NaN()}); err != nil {
		t.Fatalf("NaN gradient norm should be accepted: %v", err)
	}
	if err := writer.Write(TraceEntry{Iteration: 4, Objective: math.Inf(1)}); err != nil {
		t.Fatalf("Inf objective should be accepted: %v", err)
	}
	writer.Close()

	reader, err := NewTraceReader(tmpDir, runID)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	read, err := reader.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(read) != 2 || read[0].GradNorm != 0 || read[1].Objective != 0 {
		t.Errorf("Unexpected entries: %+v", read)
	}
}

func TestTraceWriter_Append(t *testing.T) {
	tmpDir := t.TempDir()
	runID := NewRunID()

	for i := 0; i < 2; i++ {
		writer, err := NewTraceWriter(tmpDir, runID, i > 0)
		if err != nil {
			t.Fatal(err)
		}
		writer.Write(TraceEntry{Iteration: i, Objective: float64(i)})
		if err := writer.Flush(); err != nil {
			t.Fatal(err)
		}
		writer.Close()
	}

	reader, err := NewTraceReader(tmpDir, runID)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()

	first, err := reader.Read()
	if err != nil || first.Iteration != 0 {
		t.Fatalf("First entry: %+v, %v", first, err)
	}
	second, err := reader.Read()
	if err != nil || second.Iteration != 1 {
		t.Fatalf("Second entry: %+v, %v", second, err)
	}
	if _, err := reader.Read(); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestTraceWriter_Concurrent(t *testing.T) {
	tmpDir := t.TempDir()
	runID := NewRunID()

	writer, err := NewTraceWriter(tmpDir, runID, false)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				writer.Write(TraceEntry{Iteration: g*100 + i, Objective: 1})
			}
		}(g)
	}
	wg.Wait()
	writer.Close()

	reader, err := NewTraceReader(tmpDir, runID)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	read, err := reader.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(read) != 200 {
		t.Errorf("Expected 200 entries, got %d", len(read))
	}
}

func TestTraceReader_NotFound(t *testing.T) {
	_, err := NewTraceReader(t.TempDir(), NewRunID())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
