package cite

import (
	"errors"
	"testing"

	"github.com/TobiSchelling/medbrief/internal/document"
)

func TestFormat(t *testing.T) {
	got := Format("Insulin Advances", "https://a.example/insulin")
	want := "[Insulin Advances](https://a.example/insulin)"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestCiteAll(t *testing.T) {
	docs := []document.Document{
		document.New("A", "https://a.example", "a"),
		document.New("B", "https://b.example", "b"),
	}
	docs[0].SetType("review")

	if err := CiteAll(docs); err != nil {
		t.Fatalf("CiteAll: %v", err)
	}
	if docs[0].Citation != "[A](https://a.example)" || docs[1].Citation != "[B](https://b.example)" {
		t.Errorf("unexpected citations: %q, %q", docs[0].Citation, docs[1].Citation)
	}
	if docs[0].Type != "review" {
		t.Error("citation must not touch other fields")
	}
}

func TestCiteAllMalformed(t *testing.T) {
	docs := []document.Document{
		document.New("A", "https://a.example", "a"),
		{Title: "No link", Content: "x"},
	}
	err := CiteAll(docs)
	if !errors.Is(err, ErrMalformedDocument) {
		t.Fatalf("expected ErrMalformedDocument, got %v", err)
	}
}

func TestCiteAllEmpty(t *testing.T) {
	if err := CiteAll(nil); err != nil {
		t.Errorf("expected no error for empty list, got %v", err)
	}
}
