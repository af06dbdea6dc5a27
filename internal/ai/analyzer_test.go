package ai

import (
	"math"
	"testing"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{
			name:    "plain json",
			content: `{"is_recommended": true}`,
			want:    `{"is_recommended": true}`,
		},
		{
			name:    "markdown fenced json",
			content: "```json\n{\"is_recommended\": false, \"reason\": \"价格偏高\"}\n```",
			want:    `{"is_recommended": false, "reason": "价格偏高"}`,
		},
		{
			name:    "leading prose",
			content: "Here is my analysis:\n{\"reason\": \"ok\"} thanks",
			want:    `{"reason": "ok"}`,
		},
		{
			name:    "no braces",
			content: "sorry, cannot answer",
			wantErr: true,
		},
		{
			name:    "only closing before opening",
			content: "} {",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSONObject(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("extractJSONObject: %v", err)
			}
			if got != tt.want {
				t.Fatalf("extractJSONObject = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "length mismatch", a: []float32{1, 0}, b: []float32{1}, want: 0},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 1}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("cosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("ab", 3); got != "ab" {
		t.Fatalf("truncate short = %q", got)
	}
}
