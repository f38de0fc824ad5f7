package config

import "testing"

func TestRangeParse(t *testing.T) {
	tests := []struct {
		name string
		r    Range
		raw  string
		want int
	}{
		{"empty uses default", TargetInsertsRange, "", 2},
		{"garbage uses default", TargetInsertsRange, "lots", 2},
		{"in range", TargetInsertsRange, "4", 4},
		{"clamps high", TargetInsertsRange, "50", 5},
		{"clamps low", TargetInsertsRange, "0", 1},
		{"discovery cap low", DiscoveryURLCapRange, "1", 2},
		{"discovery cap high", DiscoveryURLCapRange, "31", 30},
		{"max sources default", MaxSourcesPerRunRange, " ", 15},
		{"max sources low", MaxSourcesPerRunRange, "-4", 3},
		{"max sources high", MaxSourcesPerRunRange, "400", 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Parse(tt.raw); got != tt.want {
				t.Fatalf("Parse(%q) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SCAN_TARGET_INSERTS", "9")
	t.Setenv("SCAN_DISCOVERY_URL_CAP", "")
	t.Setenv("SCAN_MAX_SOURCES_PER_RUN", "20")
	t.Setenv("ADMIN_ALERT_EMAILS", "a@example.org, ,b@example.org")
	t.Setenv("CRON_SECRET", "  s3cret ")
	t.Setenv("PORT", "")

	cfg := Load()
	if cfg.TargetInserts != 5 {
		t.Fatalf("TargetInserts = %d, want 5", cfg.TargetInserts)
	}
	if cfg.DiscoveryURLCap != 12 {
		t.Fatalf("DiscoveryURLCap = %d, want 12", cfg.DiscoveryURLCap)
	}
	if cfg.MaxSourcesPerRun != 20 {
		t.Fatalf("MaxSourcesPerRun = %d, want 20", cfg.MaxSourcesPerRun)
	}
	if len(cfg.AdminAlertEmails) != 2 || cfg.AdminAlertEmails[1] != "b@example.org" {
		t.Fatalf("AdminAlertEmails = %v", cfg.AdminAlertEmails)
	}
	if cfg.CronSecret != "s3cret" {
		t.Fatalf("CronSecret = %q", cfg.CronSecret)
	}
	if cfg.Port != DefaultPort {
		t.Fatalf("Port = %q", cfg.Port)
	}
}
