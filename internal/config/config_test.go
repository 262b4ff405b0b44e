package config

import "testing"

func TestParseServerFlagsDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATA_DIR", "")
	t.Setenv("REQUIRE_GITHUB_AUTH", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("CORS_ORIGIN", "")

	cfg, err := ParseServerFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != defaultPort {
		t.Fatalf("Port = %d, want %d", cfg.Port, defaultPort)
	}
	if cfg.DataDir != defaultDataDir {
		t.Fatalf("DataDir = %q, want %q", cfg.DataDir, defaultDataDir)
	}
	if cfg.IdleGracePeriod != defaultIdleGracePeriod {
		t.Fatalf("IdleGracePeriod = %v, want %v", cfg.IdleGracePeriod, defaultIdleGracePeriod)
	}
	if cfg.CORSOrigin != "*" {
		t.Fatalf("CORSOrigin = %q, want %q", cfg.CORSOrigin, "*")
	}
}

func TestParseServerFlagsPortOverride(t *testing.T) {
	cfg, err := ParseServerFlags([]string{"--port", "9000"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("Port = %d, want 9000", cfg.Port)
	}
}

func TestParseServerFlagsInvalidPort(t *testing.T) {
	if _, err := ParseServerFlags([]string{"--port", "70000"}); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
	if _, err := ParseServerFlags([]string{"--port", "0"}); err == nil {
		t.Fatal("expected error for zero port")
	}
}

func TestParseServerFlagsRequireGitHubAuthNeedsSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := ParseServerFlags([]string{}); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REQUIRE_GITHUB_AUTH", "true")
	if _, err := ParseServerFlags(nil); err == nil {
		t.Fatal("expected error when REQUIRE_GITHUB_AUTH is set without JWT_SECRET")
	}
	t.Setenv("JWT_SECRET", "s3cret")
	if _, err := ParseServerFlags(nil); err != nil {
		t.Fatalf("unexpected error with JWT_SECRET set: %v", err)
	}
}

func TestParseServerFlagsTLSPairRequired(t *testing.T) {
	t.Setenv("REQUIRE_GITHUB_AUTH", "")
	tests := []struct {
		name string
		cert string
		key  string
		ok   bool
	}{
		{"neither set", "", "", true},
		{"both set", "cert.pem", "key.pem", true},
		{"cert only", "cert.pem", "", false},
		{"key only", "", "key.pem", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TLS_CERT", tt.cert)
			t.Setenv("TLS_KEY", tt.key)
			_, err := ParseServerFlags(nil)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected error for mismatched TLS pair")
			}
		})
	}
}

func TestEnvIntOrDefaultInvalidFallsBack(t *testing.T) {
	t.Setenv("RELAY_TEST_INT", "not-a-number")
	if got := envIntOrDefault("RELAY_TEST_INT", 7); got != 7 {
		t.Fatalf("envIntOrDefault = %d, want 7", got)
	}
}

func TestEnvBoolOrDefaultInvalidFallsBack(t *testing.T) {
	t.Setenv("RELAY_TEST_BOOL", "not-a-bool")
	if got := envBoolOrDefault("RELAY_TEST_BOOL", true); got != true {
		t.Fatalf("envBoolOrDefault = %v, want true", got)
	}
}
