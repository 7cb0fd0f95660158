package logx

import (
	"strings"
	"testing"
)

func TestFieldsMarshalsKeyValuePairs(t *testing.T) {
	out, err := Fields("event", "started", "requests", 3)
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	s := string(out)
	if !strings.Contains(s, `"event":"started"`) {
		t.Fatalf("Fields output = %q, want it to contain event:started", s)
	}
	if !strings.Contains(s, `"requests":3`) {
		t.Fatalf("Fields output = %q, want it to contain requests:3", s)
	}
}

func TestFieldsIgnoresNonStringKeys(t *testing.T) {
	out, err := Fields(1, "value", "ok", true)
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	if !strings.Contains(string(out), `"ok":true`) {
		t.Fatalf("Fields output = %q, want it to contain ok:true", out)
	}
}

func TestDiscardLoggerNeverPanics(t *testing.T) {
	l := Discard()
	l.Debugf("x")
	l.Infof("x")
	l.Warnf("x")
	l.Errorf("x")
	l.With("k", "v").Infof("y")
}
