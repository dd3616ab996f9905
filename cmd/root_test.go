package cmd

import (
	"errors"
	"strings"
	"testing"

	"vidgrab/internal/extract"
	"vidgrab/internal/resolve"
)

func TestDescribe(t *testing.T) {
	plain := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"restricted", &resolve.RestrictedError{Strategy: "desktop", Err: errors.New("private video")}, "content is restricted: private video"},
		{"not found", &resolve.NotFoundError{Strategy: "desktop", Err: errors.New("removed")}, "content not found"},
		{
			"rate limited",
			&resolve.ExhaustedError{Causes: []resolve.StrategyError{
				{Strategy: "desktop", Err: &extract.Error{Kind: extract.RateLimited, Msg: "HTTP 429"}},
			}},
			"upstream is rate limiting requests, try again later",
		},
		{
			"exhausted",
			&resolve.ExhaustedError{Format: "137", Causes: []resolve.StrategyError{
				{Strategy: "desktop", Err: errors.New("timeout")},
			}},
			`all extraction strategies failed for format "137": desktop: timeout`,
		},
		{"passthrough", plain, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := describe(tt.err)
			if got.Error() != tt.want {
				t.Errorf("describe() = %q, want %q", got, tt.want)
			}
		})
	}
	if !errors.Is(describe(plain), plain) {
		t.Error("unrelated errors should pass through unchanged")
	}
}

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	got := strings.Join(names, ",")
	for _, want := range []string{"info", "url", "download", "play", "history", "cookies", "serve", "version"} {
		if !strings.Contains(got, want) {
			t.Errorf("command %q not registered (have %s)", want, got)
		}
	}
}
