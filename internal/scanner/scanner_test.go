package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestScanSkipsDirsAndFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n\nfunc Hello(name string) {\n\treturn\n}\n")
	writeFile(t, dir, "vendor/dep.go", "package dep\n\nfunc Unused() {}\n")
	writeFile(t, dir, "node_modules/pkg/index.js", "function ignored() {}\n")

	s := New(dir)
	analyses, warnings, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", warnings)
	}
	if len(analyses) != 1 {
		t.Fatalf("len(analyses) = %d, want 1 (vendor and node_modules skipped): %+v", len(analyses), analyses)
	}
	if analyses[0].Path != "main.go" {
		t.Fatalf("analyses[0].Path = %q, want main.go", analyses[0].Path)
	}
}

func TestAnalyzeGoExtractsFunctionsAndTypes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "svc.go", `package svc

import (
	"context"
	"fmt"
)

type Server struct {
	addr string
}

func NewServer(addr string) *Server {
	return &Server{addr: addr}
}

func (s *Server) Serve(ctx context.Context) error {
	fmt.Println("serving")
	return nil
}
`)

	s := New(dir)
	analyses, _, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(analyses) != 1 {
		t.Fatalf("len(analyses) = %d, want 1", len(analyses))
	}
	a := analyses[0]

	foundType, foundFunc := false, false
	for _, u := range a.Units {
		if u.Name == "Server" && u.UnitType == "struct" {
			foundType = true
		}
		if u.Name == "NewServer" && u.UnitType == "function" {
			foundFunc = true
		}
	}
	if !foundType {
		t.Fatalf("did not find Server struct unit: %+v", a.Units)
	}
	if !foundFunc {
		t.Fatalf("did not find NewServer function unit: %+v", a.Units)
	}
}

func TestAnalyzeJSExtractsFunctionsAndClasses(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.js", `const express = require('express');

function handleRequest(req, res) {
	res.send('ok');
}

class Router {
	constructor() {}
}
`)

	s := New(dir)
	analyses, _, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(analyses) != 1 {
		t.Fatalf("len(analyses) = %d, want 1", len(analyses))
	}
	a := analyses[0]
	if len(a.Imports) == 0 || a.Imports[0] != "express" {
		t.Fatalf("Imports = %+v, want [express]", a.Imports)
	}

	foundFunc, foundClass := false, false
	for _, u := range a.Units {
		if u.Name == "handleRequest" {
			foundFunc = true
		}
		if u.Name == "Router" && u.UnitType == "class" {
			foundClass = true
		}
	}
	if !foundFunc || !foundClass {
		t.Fatalf("units = %+v, missing expected function/class", a.Units)
	}
}

func TestExtractConceptsLimitsToTen(t *testing.T) {
	a := &FileAnalysis{}
	content := "auth api database cache test config log error async http parse encrypt route model"
	extractConcepts(a, content)
	if len(a.Concepts) > 10 {
		t.Fatalf("len(Concepts) = %d, want <= 10", len(a.Concepts))
	}
	if len(a.Concepts) == 0 {
		t.Fatalf("expected at least one concept extracted")
	}
}

func TestAnalysisToChunksProducesFileAndUnitChunks(t *testing.T) {
	a := FileAnalysis{
		Path:     "pkg/svc.go",
		Language: "go",
		Units: []CodeUnit{
			{Name: "NewServer", UnitType: "function", Signature: "func NewServer(addr string) *Server"},
		},
		Concepts: []string{"http", "server"},
	}

	chunks := AnalysisToChunks(a)
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(chunks))
	}
	if chunks[0].ID != "pkg/svc.go" || chunks[0].Metadata.ChunkType != "file" {
		t.Fatalf("chunks[0] = %+v, want file chunk", chunks[0])
	}
	if chunks[1].ID != "pkg/svc.go:NewServer" || chunks[1].Metadata.ChunkType != "function" {
		t.Fatalf("chunks[1] = %+v, want function chunk", chunks[1])
	}
}

func TestScanSkipsEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "empty.go", "x")

	s := New(dir)
	analyses, _, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(analyses) != 0 {
		t.Fatalf("expected empty/tiny file to be skipped, got %+v", analyses)
	}
}
