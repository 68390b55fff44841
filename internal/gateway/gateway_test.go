package gateway

import (
	"reflect"
	"testing"
)

// =============================================================================
// Validate Tests
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		want  string
		valid bool
	}{
		{"secure port", "https://node.example:3001", "https://node.example:3001", true},
		{"plain port", "http://node.example:3000", "http://node.example:3000", true},
		{"trailing slash", "https://node.example:3001/", "https://node.example:3001", true},
		{"upper scheme", "HTTPS://node.example:3001", "https://node.example:3001", true},
		{"no port", "https://node.example", "", false},
		{"wrong port", "https://node.example:7900", "", false},
		{"ws scheme", "ws://node.example:3000", "", false},
		{"not a url", "node.example:3000", "", false},
		{"empty", "", "", false},
		{"garbage", "://", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Validate(tt.raw)
			if ok != tt.valid {
				t.Fatalf("Validate(%q) ok = %v, want %v", tt.raw, ok, tt.valid)
			}
			if got != tt.want {
				t.Errorf("Validate(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestIsGatewayURL(t *testing.T) {
	if !IsGatewayURL("http://10.0.0.1:3000") {
		t.Error("plain gateway URL should be recognized")
	}
	if IsGatewayURL("http://10.0.0.1:8080") {
		t.Error("non-gateway port should not be recognized")
	}
}

// =============================================================================
// Expand Tests
// =============================================================================

func TestExpand(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "secure gateway adds plaintext fallback",
			raw:  "https://node.example:3001",
			want: []string{"https://node.example:3001", "http://node.example:3000"},
		},
		{
			name: "keeps path on fallback",
			raw:  "https://node.example:3001/api",
			want: []string{"https://node.example:3001/api", "http://node.example:3000/api"},
		},
		{
			name: "plaintext is not expanded",
			raw:  "http://node.example:3000",
			want: []string{"http://node.example:3000"},
		},
		{
			name: "secure on other port is not expanded",
			raw:  "https://node.example:443",
			want: []string{"https://node.example:443"},
		},
		{
			name: "unparseable input kept",
			raw:  "::bad::",
			want: []string{"::bad::"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Expand(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expand(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestExpand_FirstIsInputAndNoDuplicates(t *testing.T) {
	inputs := []string{
		"https://a:3001",
		"http://a:3000",
		"https://[::1]:3001",
		"https://a:3001/",
		"http://127.0.0.1:55123",
	}

	for _, in := range inputs {
		got := Expand(in)
		if len(got) == 0 || got[0] != in {
			t.Errorf("Expand(%q)[0] = %v, want input first", in, got)
		}
		seen := make(map[string]bool)
		for _, c := range got {
			if seen[c] {
				t.Errorf("Expand(%q) has duplicate %q", in, c)
			}
			seen[c] = true
		}
	}
}

func TestExpandAll_KeepsFallbackAfterEachNode(t *testing.T) {
	got := ExpandAll([]string{
		"https://a:3001",
		"http://b:3000",
		"https://a:3001",
		"https://c:3001",
	})
	want := []string{
		"https://a:3001", "http://a:3000",
		"http://b:3000",
		"https://c:3001", "http://c:3000",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExpandAll() = %v, want %v", got, want)
	}
}

func TestUnique(t *testing.T) {
	got := Unique([]string{"b", "a", "b", "c", "a"})
	want := []string{"b", "a", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Unique() = %v, want %v", got, want)
	}
}

func TestJoin(t *testing.T) {
	if got := Join("https://a:3001/", "/node/info"); got != "https://a:3001/node/info" {
		t.Errorf("Join() = %q", got)
	}
	if got := Join("https://a:3001", "/chain/info?x=1"); got != "https://a:3001/chain/info?x=1" {
		t.Errorf("Join() = %q", got)
	}
}
