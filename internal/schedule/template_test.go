package schedule

import (
	"testing"
	"time"
)

func TestParseTemplateNormalizes(t *testing.T) {
	t.Parallel()
	tpl, err := ParseTemplate([]string{"21:00", "09:00", "13:30", "09:00"})
	if err != nil {
		t.Fatalf("ParseTemplate error: %v", err)
	}
	got := tpl.Strings()
	want := []string{"09:00", "13:30", "21:00"}
	if len(got) != len(want) {
		t.Fatalf("Strings() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Strings()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestParseTemplateInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  []string
	}{
		{name: "empty", raw: nil},
		{name: "bad hour", raw: []string{"24:00"}},
		{name: "bad minute", raw: []string{"10:60"}},
		{name: "no colon", raw: []string{"1000"}},
		{name: "garbage", raw: []string{"soon"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTemplate(tt.raw); err == nil {
				t.Fatalf("ParseTemplate(%v) expected error", tt.raw)
			}
		})
	}
}

func TestTimeOfDayOn(t *testing.T) {
	t.Parallel()
	day := time.Date(2025, 6, 2, 17, 45, 12, 0, time.Local)
	got := TimeOfDay{Hour: 9, Minute: 30}.On(day)
	want := time.Date(2025, 6, 2, 9, 30, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Fatalf("On() = %v, want %v", got, want)
	}
}
