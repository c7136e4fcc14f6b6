package config

import (
	"strings"
	"testing"
)

func TestParseICEServersJSON(t *testing.T) {
	raw := `[
		{"urls": "stun:stun.example.com:3478"},
		{"urls": ["turn:turn.example.com:3478", "turns:turn.example.com:5349"],
		 "username": "user", "credential": "pass"}
	]`

	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("ParseICEServersJSON: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len(servers)=%d, want 2", len(servers))
	}
	if len(servers[0].URLs) != 1 || servers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Errorf("servers[0].URLs=%v", servers[0].URLs)
	}
	if servers[1].Username != "user" {
		t.Errorf("servers[1].Username=%q, want user", servers[1].Username)
	}
	if cred, _ := servers[1].Credential.(string); cred != "pass" {
		t.Errorf("servers[1].Credential=%v, want pass", servers[1].Credential)
	}
}

func TestParseICEServersJSON_Invalid(t *testing.T) {
	cases := []struct {
		raw     string
		wantErr string
	}{
		{`not json`, "invalid character"},
		{`[{"urls": []}]`, "missing urls"},
		{`[{"urls": "http://example.com"}]`, "unsupported url scheme"},
		{`[{"urls": "turn:turn.example.com"}]`, "turn urls require username"},
		{`[{"urls": "turn:turn.example.com", "username": "u"}]`, "turn urls require credential"},
	}

	for _, tc := range cases {
		_, err := ParseICEServersJSON(tc.raw)
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Errorf("ParseICEServersJSON(%q) err=%v, want containing %q", tc.raw, err, tc.wantErr)
		}
	}
}

func TestParseICEServersFromConvenienceEnv(t *testing.T) {
	servers, err := parseICEServersFromConvenienceEnv(
		"stun:a.example.com, stun:b.example.com",
		"turn:t.example.com",
		"user", "pass",
	)
	if err != nil {
		t.Fatalf("parseICEServersFromConvenienceEnv: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len(servers)=%d, want 2", len(servers))
	}
	if len(servers[0].URLs) != 2 {
		t.Errorf("stun URLs=%v, want 2 entries", servers[0].URLs)
	}

	_, err = parseICEServersFromConvenienceEnv("", "turn:t.example.com", "", "")
	if err == nil {
		t.Fatalf("turn without credentials accepted")
	}
}
