package config

import "testing"

func TestWindowMinutes(t *testing.T) {
	cfg := &Config{WindowOpen: "00:01", WindowClose: "07:00"}

	w, err := cfg.WindowMinutes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.OpenMin != 1 || w.CloseMin != 420 {
		t.Errorf("expected window [1,420), got [%d,%d)", w.OpenMin, w.CloseMin)
	}
}

func TestWindowMinutesRejectsInverted(t *testing.T) {
	cfg := &Config{WindowOpen: "07:00", WindowClose: "00:01"}
	if _, err := cfg.WindowMinutes(); err == nil {
		t.Error("expected error for inverted window")
	}
}

func TestWindowMinutesRejectsMalformed(t *testing.T) {
	for _, tc := range []struct{ open, close string }{
		{"0001", "07:00"},
		{"25:00", "07:00"},
		{"00:01", "07:61"},
		{"aa:bb", "07:00"},
	} {
		cfg := &Config{WindowOpen: tc.open, WindowClose: tc.close}
		if _, err := cfg.WindowMinutes(); err == nil {
			t.Errorf("expected error for window %q-%q", tc.open, tc.close)
		}
	}
}

func TestWindowContains(t *testing.T) {
	w := Window{OpenMin: 1, CloseMin: 420}

	cases := []struct {
		minute int
		want   bool
	}{
		{0, false},   // midnight, before open
		{1, true},    // open boundary is inclusive
		{200, true},  // middle of the night
		{419, true},  // last minute
		{420, false}, // close boundary is exclusive
		{720, false}, // noon
	}
	for _, tc := range cases {
		if got := w.Contains(tc.minute); got != tc.want {
			t.Errorf("Contains(%d) = %v, want %v", tc.minute, got, tc.want)
		}
	}
}

func TestTelegramEnabled(t *testing.T) {
	cfg := &Config{}
	if cfg.TelegramEnabled() {
		t.Error("expected disabled without credentials")
	}
	cfg.TelegramBotToken = "token"
	cfg.TelegramChatID = "42"
	if !cfg.TelegramEnabled() {
		t.Error("expected enabled with credentials")
	}
}
