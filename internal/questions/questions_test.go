package questions

import (
	"reflect"
	"testing"
)

func TestCatalog(t *testing.T) {
	if Count != 10 {
		t.Fatalf("expected 10 questions, got %d", Count)
	}

	all := All()
	for i, q := range all {
		if q.Index != i {
			t.Fatalf("expected index %d, got %d", i, q.Index)
		}
		if q.Text == "" {
			t.Fatalf("question %d has empty text", i)
		}
	}

	if _, ok := Text(-1); ok {
		t.Fatal("expected index -1 to be invalid")
	}
	if _, ok := Text(Count); ok {
		t.Fatalf("expected index %d to be invalid", Count)
	}
	if text, ok := Text(3); !ok || text != all[3].Text {
		t.Fatalf("expected Text(3) to match catalog, got %q", text)
	}
}

func TestProgressOf(t *testing.T) {
	p := ProgressOf([]int{3, 0, 3, 42, -1})
	if !reflect.DeepEqual(p.Answered, []int{0, 3}) {
		t.Fatalf("expected answered [0 3], got %v", p.Answered)
	}
	if len(p.Missing) != Count-2 {
		t.Fatalf("expected %d missing, got %v", Count-2, p.Missing)
	}
	if p.Completed {
		t.Fatal("expected incomplete progress")
	}

	all := make([]int, 0, Count)
	for i := Count - 1; i >= 0; i-- {
		all = append(all, i)
	}
	p = ProgressOf(all)
	if !p.Completed {
		t.Fatalf("expected completed progress, got %+v", p)
	}
	if len(p.Missing) != 0 {
		t.Fatalf("expected no missing questions, got %v", p.Missing)
	}
}
