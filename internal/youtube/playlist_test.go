package youtube

import (
	"errors"
	"testing"
)

func TestParsePlaylistID(t *testing.T) {
	tests := []struct {
		ref     string
		want    string
		wantErr bool
	}{
		{"PLrAXtmErZgOeiKm4sgNOknGvNjby9efdf", "PLrAXtmErZgOeiKm4sgNOknGvNjby9efdf", false},
		{"https://www.youtube.com/playlist?list=PL123abc", "PL123abc", false},
		{"https://youtube.com/watch?v=dQw4w9WgXcQ&list=PL123abc&index=2", "PL123abc", false},
		{"https://m.youtube.com/playlist?list=OLAK5uy_abc-DEF", "OLAK5uy_abc-DEF", false},
		{"https://music.youtube.com/playlist?list=PLmusic", "PLmusic", false},
		{"https://youtu.be/dQw4w9WgXcQ?list=PLshort", "PLshort", false},
		{"www.youtube.com/playlist?list=PLnoscheme", "PLnoscheme", false},
		{"  PLpadded  ", "PLpadded", false},
		{"", "", true},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "", true},
		{"https://example.com/playlist?list=PL123", "", true},
		{"not a playlist", "", true},
		{"https://www.youtube.com/playlist?list=bad%20id", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := ParsePlaylistID(tt.ref)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPlaylist) {
					t.Fatalf("ParsePlaylistID(%q) error = %v, want ErrInvalidPlaylist", tt.ref, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePlaylistID(%q) unexpected error: %v", tt.ref, err)
			}
			if got != tt.want {
				t.Errorf("ParsePlaylistID(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}

func TestPlaylistURL(t *testing.T) {
	if got := PlaylistURL("PL1"); got != "https://www.youtube.com/playlist?list=PL1" {
		t.Errorf("PlaylistURL = %q", got)
	}
}
