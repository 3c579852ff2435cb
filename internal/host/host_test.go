package host

import "testing"

func TestParseKey(t *testing.T) {
	tests := []struct {
		key      string
		kind, id string
		wantErr  bool
	}{
		{"group:123", KindGroup, "123", false},
		{"private:9", KindPrivate, "9", false},
		{"555", KindGroup, "555", false},
		{"  group:1 ", KindGroup, "1", false},
		{"", "", "", true},
		{"guild:1", "", "", true},
		{"group:", "", "", true},
	}
	for _, tt := range tests {
		kind, id, err := ParseKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKey(%q) err = %v, wantErr %v", tt.key, err, tt.wantErr)
			continue
		}
		if kind != tt.kind || id != tt.id {
			t.Errorf("ParseKey(%q) = %q, %q", tt.key, kind, id)
		}
	}
}

func TestCanonicalKey(t *testing.T) {
	for in, want := range map[string]string{
		"123":         "group:123",
		"group:123":   "group:123",
		" private:9 ": "private:9",
	} {
		got, err := CanonicalKey(in)
		if err != nil || got != want {
			t.Errorf("CanonicalKey(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := CanonicalKey("guild:1"); err == nil {
		t.Error("unknown kind accepted")
	}
}
