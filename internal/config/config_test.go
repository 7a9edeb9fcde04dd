package config

import "testing"

func TestGetDefaults(t *testing.T) {
	cfg := GetDefaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.DLP.DefaultProfile != "DEFAULT" {
		t.Errorf("unexpected default profile %q", cfg.DLP.DefaultProfile)
	}
	if cfg.DLP.SampleMaxLength != 512 {
		t.Errorf("unexpected sample max length %d", cfg.DLP.SampleMaxLength)
	}
	if cfg.Policy.TenantName != "PoC Tenant" {
		t.Errorf("unexpected tenant name %q", cfg.Policy.TenantName)
	}
	if got := int(cfg.Policy.ApprovalTTL.Seconds()); got != 7200 {
		t.Errorf("expected approval ttl 7200s, got %d", got)
	}
	if err := validateConfig(cfg); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad max content length", func(c *Config) { c.DLP.MaxContentLength = 0 }},
		{"bad sample length", func(c *Config) { c.DLP.SampleMaxLength = -1 }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"bad rate limit", func(c *Config) { c.RateLimit.RequestsPerSecond = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaults()
			tt.mutate(cfg)
			if err := validateConfig(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
