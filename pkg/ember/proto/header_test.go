package proto

import "testing"

func TestHeaderCaseInsensitiveGet(t *testing.T) {
	var h Header
	h.AddRequest([]byte("Content-Type"), []byte("text/plain"))

	if v := h.Get([]byte("content-type")); string(v) != "text/plain" {
		t.Fatalf("Get case-insensitive = %q", v)
	}
}

func TestHeaderPreservesDuplicates(t *testing.T) {
	var h Header
	h.AddRequest([]byte("X-Trace"), []byte("a"))
	h.AddRequest([]byte("X-Trace"), []byte("b"))

	if h.Len() != 2 {
		t.Fatalf("Len = %d, want 2", h.Len())
	}
	if v := h.Get([]byte("X-Trace")); string(v) != "a" {
		t.Fatalf("Get should return first match, got %q", v)
	}
}

func TestHeaderReversedTwiceEqualsOriginal(t *testing.T) {
	var h Header
	h.AddResponse([]byte("A"), []byte("1"))
	h.AddResponse([]byte("B"), []byte("2"))
	h.AddResponse([]byte("C"), []byte("3"))

	twice := h.Reversed().Reversed()

	var got []string
	twice.VisitAll(func(kind HeaderKind, name, value []byte) bool {
		got = append(got, string(name)+"="+string(value))
		return true
	})
	want := []string{"A=1", "B=2", "C=3"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestHasToken(t *testing.T) {
	var h Header
	h.AddRequest([]byte("Connection"), []byte("keep-alive, Upgrade"))

	if !h.HasToken([]byte("Connection"), []byte("upgrade")) {
		t.Fatal("expected token match case-insensitively")
	}
	if h.HasToken([]byte("Connection"), []byte("close")) {
		t.Fatal("unexpected token match")
	}
}

func TestReset(t *testing.T) {
	var h Header
	h.AddRequest([]byte("A"), []byte("1"))
	h.Reset()
	if h.Len() != 0 {
		t.Fatalf("Len after Reset = %d, want 0", h.Len())
	}
	if h.Has([]byte("A")) {
		t.Fatal("Has should be false after Reset")
	}
}
