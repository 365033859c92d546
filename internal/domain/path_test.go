package domain

import "testing"

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"a/internal/server.go", "internal/server.go"},
		{"b/internal/server.go", "internal/server.go"},
		{"internal/server.go", "internal/server.go"},
		{`cmd\server\main.go`, "cmd/server/main.go"},
		{"a/b/c.go", "b/c.go"},
	}
	for _, tc := range cases {
		if got := NormalizePath(tc.in); got != tc.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEncodeProjectPath(t *testing.T) {
	if got := EncodeProjectPath("group/sub/repo"); got != "group%2Fsub%2Frepo" {
		t.Errorf("got %q", got)
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("what does this change do")
	b := Fingerprint("what does this change do")
	if a != b {
		t.Errorf("fingerprint not stable: %q vs %q", a, b)
	}
	if a == Fingerprint("what does this change do?") {
		t.Error("distinct inputs collided")
	}
	if a == "" {
		t.Error("empty fingerprint")
	}
}

func TestIsCodeFile(t *testing.T) {
	cases := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"main.go", nil, true},
		{"web/app.TSX", nil, true},
		{"image.png", nil, false},
		{"Makefile", nil, false},
		{"main.go", []string{"py"}, false},
		{"script.py", []string{"py"}, true},
	}
	for _, tc := range cases {
		if got := IsCodeFile(tc.path, tc.extensions); got != tc.want {
			t.Errorf("IsCodeFile(%q, %v) = %v, want %v", tc.path, tc.extensions, got, tc.want)
		}
	}
}

func TestIsProcessTemplateFile(t *testing.T) {
	cases := []struct {
		platform Platform
		path     string
		want     bool
	}{
		{PlatformGitHub, ".github/workflows/ci.yml", true},
		{PlatformGitHub, "CODEOWNERS", true},
		{PlatformGitHub, "docs/CONTRIBUTING.md", true},
		{PlatformGitLab, ".gitlab-ci.yml", true},
		{PlatformGitLab, ".gitlab/merge_request_templates/Default.md", true},
		{PlatformGitLab, ".github/workflows/ci.yml", false},
		{PlatformGitHub, "internal/server.go", false},
	}
	for _, tc := range cases {
		if got := IsProcessTemplateFile(tc.platform, tc.path); got != tc.want {
			t.Errorf("IsProcessTemplateFile(%s, %q) = %v, want %v", tc.platform, tc.path, got, tc.want)
		}
	}
}
