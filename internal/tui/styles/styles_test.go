package styles

import "testing"

func TestStatus(t *testing.T) {
	tests := []struct {
		state string
		want  string
	}{
		{"running", SuccessText.Render("x")},
		{"completed", SuccessText.Render("x")},
		{"degraded", WarningText.Render("x")},
		{"retry_pending", WarningText.Render("x")},
		{"failed", ErrorText.Render("x")},
		{"unhealthy", ErrorText.Render("x")},
		{"pending", MutedText.Render("x")},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			if got := Status(tt.state).Render("x"); got != tt.want {
				t.Errorf("Status(%q).Render() = %q, want %q", tt.state, got, tt.want)
			}
		})
	}
}

func TestSeverity(t *testing.T) {
	if got, want := Severity("critical").Render("x"), ErrorText.Render("x"); got != want {
		t.Errorf("Severity(critical) = %q, want %q", got, want)
	}
	if got, want := Severity("low").Render("x"), MutedText.Render("x"); got != want {
		t.Errorf("Severity(low) = %q, want %q", got, want)
	}
}
