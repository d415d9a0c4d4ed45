package strategy

import (
	"strings"
	"testing"

	"github.com/fpang/card-restore/internal/assets"
)

func TestAll_FixedTable(t *testing.T) {
	all := All()
	if len(all) != 4 {
		t.Fatalf("len(All()) = %d, want 4", len(all))
	}

	want := []struct {
		key                 string
		vision, refs, frame bool
	}{
		{"static", false, false, false},
		{"vision", true, false, false},
		{"content_lock", false, true, true},
		{"reference", false, true, true},
	}
	for i, w := range want {
		s := all[i]
		if s.Key != w.key || s.NeedsVision != w.vision || s.NeedsReferenceImages != w.refs || s.FrameCrop != w.frame {
			t.Errorf("All()[%d] = %+v, want %+v", i, s, w)
		}
	}
}

func TestAll_ReturnsCopy(t *testing.T) {
	a := All()
	a[0].Name = "changed"
	if All()[0].Name == "changed" {
		t.Error("All() should not expose the package table")
	}
}

func TestSplit(t *testing.T) {
	independent, dependent := Split(All())
	if len(independent) != 3 || len(dependent) != 1 {
		t.Fatalf("Split() = %d independent, %d dependent; want 3, 1", len(independent), len(dependent))
	}
	if independent[0].Key != "static" || independent[1].Key != "content_lock" || independent[2].Key != "reference" {
		t.Errorf("independent order = %v", independent)
	}
	if dependent[0].Key != "vision" {
		t.Errorf("dependent = %v", dependent)
	}
}

func TestPrompt(t *testing.T) {
	all := All()
	if got := all[0].Prompt("ignored"); got != assets.StaticPrompt {
		t.Errorf("static prompt = %q", got)
	}
	if got := all[1].Prompt("two columns"); !strings.HasSuffix(got, "two columns") {
		t.Errorf("vision prompt should end with layout description, got %q", got)
	}
	if got := all[2].Prompt("ignored"); got != assets.ContentLockPrompt {
		t.Errorf("content lock prompt mismatch")
	}
}

func TestNewRequest_ImageOrder(t *testing.T) {
	all := All()
	refs := []string{"r1", "r2", "r3", "r4"}

	withRefs := NewRequest(all[2], "", "card", refs, "3000x1824")
	if len(withRefs.Images) != 5 || withRefs.Images[0] != "r1" || withRefs.Images[4] != "card" {
		t.Errorf("reference request images = %v, want refs then card", withRefs.Images)
	}

	plain := NewRequest(all[0], "", "card", refs, "3000x1824")
	if len(plain.Images) != 1 || plain.Images[0] != "card" {
		t.Errorf("static request images = %v, want only card", plain.Images)
	}

	refs[0] = "mutated"
	if withRefs.Images[0] != "r1" {
		t.Error("request should not alias the reference snapshot")
	}
}
