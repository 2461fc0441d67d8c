package subcommands

import (
	"strings"
	"testing"
	"time"

	"github.com/leefowlercu/mailroom/internal/metrics"
)

func TestParseTags(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "none", pairs: nil, want: nil},
		{name: "pairs", pairs: []string{"region=eu", "tier=gold"}, want: map[string]string{"region": "eu", "tier": "gold"}},
		{name: "empty value", pairs: []string{"region="}, want: map[string]string{"region": ""}},
		{name: "no equals", pairs: []string{"region"}, wantErr: true},
		{name: "empty key", pairs: []string{"=eu"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTags(tt.pairs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseTags() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("tag %s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestFormatPoints(t *testing.T) {
	out := formatPoints([]metrics.Point{{Name: "queue.email.backlog", Value: 12.5, Timestamp: time.Now()}})
	if !strings.Contains(out, "12.5") {
		t.Errorf("formatPoints() missing value:\n%s", out)
	}
}

func TestFormatWindows(t *testing.T) {
	start := time.Now().Truncate(time.Minute)
	out := formatWindows([]metrics.Window{
		{Start: start, End: start.Add(5 * time.Minute), Value: 3, Count: 2},
		{Start: start.Add(5 * time.Minute), End: start.Add(10 * time.Minute)},
	})
	for _, want := range []string{"3.00", "0.00", "Points"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatWindows() missing %q:\n%s", want, out)
		}
	}
}
