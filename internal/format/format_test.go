package format

import (
	"testing"

	"vidgrab/internal/media"
)

var sample = []media.FormatDescriptor{
	{Kind: media.Video, ID: "18", Height: 360, Bitrate: 500, URL: "https://cdn/18"},
	{Kind: media.Video, ID: "22", Height: 720, Bitrate: 1500, URL: "https://cdn/22"},
	{Kind: media.Video, ID: "137", Height: 1080, Bitrate: 4000, URL: "https://cdn/137"},
	{Kind: media.Audio, ID: "140", Bitrate: 128, URL: "https://cdn/140"},
	{Kind: media.Audio, ID: "251", Bitrate: 160},
}

func TestParse(t *testing.T) {
	tests := []struct {
		expr    string
		want    string
		wantErr bool
	}{
		{"22", "22", false},
		{"22/best[height<=720]/best", "22/best[height<=720]/best", false},
		{" bestaudio ", "bestaudio", false},
		{"bestvideo[height<=480]", "bestvideo[height<=480]", false},
		{"", "", true},
		{"22//best", "", true},
		{"best[width<=100]", "", true},
		{"22[height<=720]", "", true},
		{"rm -rf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			chain, err := Parse(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
			if err == nil && chain.String() != tt.want {
				t.Errorf("Parse(%q).String() = %q, want %q", tt.expr, chain.String(), tt.want)
			}
		})
	}
}

func TestSelectCeilingFiltersBeforeRanking(t *testing.T) {
	chain, err := Parse("best[height<=720]")
	if err != nil {
		t.Fatal(err)
	}
	got, ok := chain.Select(sample, Options{})
	if !ok {
		t.Fatal("expected a match")
	}
	if got.Height != 720 {
		t.Errorf("selected %dp, want 720p", got.Height)
	}
}

func TestChainCap(t *testing.T) {
	tests := []struct {
		expr    string
		ceiling int
		want    string
	}{
		{"best", 720, "best[height<=720]"},
		{"bestvideo/worst", 480, "bestvideo[height<=480]/worst[height<=480]"},
		{"best[height<=1080]", 720, "best[height<=720]"},
		{"best[height<=360]", 720, "best[height<=360]"},
		{"22/bestaudio", 720, "22/bestaudio"},
		{"best", 0, "best"},
	}
	for _, tt := range tests {
		chain, err := Parse(tt.expr)
		if err != nil {
			t.Fatal(err)
		}
		if got := chain.Cap(tt.ceiling).String(); got != tt.want {
			t.Errorf("Parse(%q).Cap(%d) = %q, want %q", tt.expr, tt.ceiling, got, tt.want)
		}
		if chain.String() != tt.expr {
			t.Errorf("Cap modified the receiver: %q", chain.String())
		}
	}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name   string
		expr   string
		opts   Options
		wantID string
		wantOK bool
	}{
		{"exact id", "18", Options{}, "18", true},
		{"missing id falls through", "999/best", Options{}, "137", true},
		{"best", "best", Options{}, "137", true},
		{"bestaudio by bitrate", "bestaudio", Options{}, "251", true},
		{"bestaudio with url", "bestaudio", Options{RequireURL: true}, "140", true},
		{"worst", "worst", Options{}, "18", true},
		{"ceiling below all", "best[height<=240]", Options{}, "", false},
		{"ceiling then unbounded", "best[height<=240]/bestaudio", Options{}, "251", true},
		{"no match", "999", Options{}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, err := Parse(tt.expr)
			if err != nil {
				t.Fatal(err)
			}
			got, ok := chain.Select(sample, tt.opts)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got.ID != tt.wantID {
				t.Errorf("selected %q, want %q", got.ID, tt.wantID)
			}
		})
	}
}

func TestRankTieBreakOnBitrate(t *testing.T) {
	fs := []media.FormatDescriptor{
		{Kind: media.Audio, ID: "a", Bitrate: 64},
		{Kind: media.Video, ID: "low", Height: 720, Bitrate: 1000},
		{Kind: media.Video, ID: "high", Height: 720, Bitrate: 2500},
		{Kind: media.Video, ID: "tall", Height: 1080, Bitrate: 900},
	}
	got := Rank(fs)
	want := []string{"tall", "high", "low", "a"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("Rank()[%d] = %q, want %q", i, got[i].ID, id)
		}
	}
	if fs[0].ID != "a" {
		t.Error("Rank must not reorder its input")
	}
}

func TestJoin(t *testing.T) {
	got := Join("22", "", "best[height<=720]", "22", "best")
	if got != "22/best[height<=720]/best" {
		t.Errorf("Join() = %q", got)
	}
}
