package worktree

import "testing"

func TestClassifyPushFailure(t *testing.T) {
	cases := []struct {
		stderr string
		want   PushFailureKind
	}{
		{"remote: Permission denied to user", PushFailurePermission},
		{"fatal: Authentication failed for 'https://example.com/repo.git'", PushFailureAuth},
		{"! [rejected] main -> main (non-fast-forward)", PushFailureDiverged},
		{"fatal: unable to access: Could not resolve host: example.com", PushFailureNetwork},
		{"fatal: something unexpected happened", PushFailureOther},
	}
	for _, c := range cases {
		got := classifyPushFailure(c.stderr)
		if got != c.want {
			t.Errorf("classifyPushFailure(%q) = %q, want %q", c.stderr, got, c.want)
		}
	}
}

func TestIsValidWorktreeName(t *testing.T) {
	if !isValidWorktreeName("spec-iss-10-fix-login") {
		t.Fatalf("expected alphanumeric-and-hyphen name to be valid")
	}
	if isValidWorktreeName("spec/with/slashes") {
		t.Fatalf("expected slashes to be rejected")
	}
	if isValidWorktreeName("spec with spaces") {
		t.Fatalf("expected spaces to be rejected")
	}
}

func TestSanitizeName(t *testing.T) {
	if got := sanitizeName("feat/my branch!"); got != "feat-my-branch-" {
		t.Fatalf("got %q", got)
	}
}
