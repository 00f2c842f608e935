package memproc

import "testing"

func TestClassify(t *testing.T) {
	var cases = []struct {
		name string
		want Kind
	}{
		{"2021-04-03_abc-123-main.jpg", KindMain},
		{"2021-04-03_abc-123_main.mp4", KindMain},
		{"2021-04-03_abc-123-overlay.png", KindOverlay},
		{"ABC-123_OVERLAY.PNG", KindOverlay},
		{"media~thumbnail.jpg", KindThumbnail},
		{"20210403_182455_abc-123.jpg", KindOther},
		{"mainstream.jpg", KindOther}, // "main" without the infix dot
	}
	for _, c := range cases {
		if got := Classify(c.name); got != c.want {
			t.Fatalf("Classify(%q): got %v, want %v", c.name, got, c.want)
		}
	}
}

func TestFileKindHelpers(t *testing.T) {
	if !isVideoFile("a/b/clip.MP4") {
		t.Fatalf("expected video")
	}
	if !isImageFile("a/b/pic.jpeg") {
		t.Fatalf("expected image")
	}
	if isMediaFile("a/b/notes.txt") {
		t.Fatalf("txt is not media")
	}
}
