package parser

import (
	"strings"
	"testing"
)

func TestSplit_EmptyAndShort(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantLen int
	}{
		{"completely empty", "", 0},
		{"whitespace only", "   \n\n\t  ", 0},
		{"short content kept whole", "One sentence here.", 1},
		{"exactly max size", strings.Repeat("a", 100), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pieces := Split(tt.content, SplitConfigFor(100))
			if len(pieces) != tt.wantLen {
				t.Errorf("Split() got %d pieces, want %d: %q", len(pieces), tt.wantLen, pieces)
			}
		})
	}
}

func TestSplit_RespectsMaxSize(t *testing.T) {
	para := strings.Repeat("This is a sentence about graphs. ", 10)
	content := strings.Join([]string{para, para, para}, "\n\n")

	cfg := SplitConfigFor(120)
	pieces := Split(content, cfg)

	if len(pieces) < 3 {
		t.Fatalf("Expected several pieces, got %d", len(pieces))
	}
	for i, p := range pieces {
		if len(p) > cfg.MaxSize+cfg.MinSize {
			t.Errorf("piece %d has length %d, exceeds bound", i, len(p))
		}
		if strings.TrimSpace(p) == "" {
			t.Errorf("piece %d is blank", i)
		}
	}
}

func TestSplit_ParagraphBoundaries(t *testing.T) {
	a := strings.Repeat("a", 60)
	b := strings.Repeat("b", 60)
	c := strings.Repeat("c", 60)
	pieces := Split(a+"\n\n"+b+"\n\n"+c, SplitConfig{MaxSize: 130, MinSize: 10})

	if len(pieces) != 2 {
		t.Fatalf("Expected 2 pieces, got %d: %q", len(pieces), pieces)
	}
	if pieces[0] != a+"\n\n"+b {
		t.Errorf("Expected first two paragraphs together, got %q", pieces[0])
	}
	if pieces[1] != c {
		t.Errorf("Expected last paragraph alone, got %q", pieces[1])
	}
}

func TestSplit_RunOnText(t *testing.T) {
	content := strings.Repeat("word ", 100)
	pieces := Split(content, SplitConfig{MaxSize: 50})
	for i, p := range pieces {
		if len(p) > 50 {
			t.Errorf("piece %d too long: %d", i, len(p))
		}
	}
}

func TestSplit_MergesTinyTail(t *testing.T) {
	long := strings.Repeat("x", 90)
	pieces := Split(long+"\n\nok", SplitConfig{MaxSize: 90, MinSize: 20})
	if len(pieces) != 1 {
		t.Fatalf("Expected tail merged into one piece, got %d", len(pieces))
	}
	if !strings.HasSuffix(pieces[0], "ok") {
		t.Errorf("Expected merged tail, got %q", pieces[0])
	}
}

func TestSplit_Overlap(t *testing.T) {
	content := "alpha beta gamma delta epsilon.\n\nzeta eta theta iota kappa."
	pieces := Split(content, SplitConfig{MaxSize: 35, Overlap: 10})
	if len(pieces) != 2 {
		t.Fatalf("Expected 2 pieces, got %d: %q", len(pieces), pieces)
	}
	if !strings.HasPrefix(pieces[1], "epsilon. zeta") {
		t.Errorf("Expected overlap prefix, got %q", pieces[1])
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("He met J. Smith. He left! Did he?")
	want := []string{"He met J. Smith.", " He left!", " Did he?"}
	if len(got) != len(want) {
		t.Fatalf("splitSentences() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}
