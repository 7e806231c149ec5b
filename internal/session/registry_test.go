package session

import (
	"testing"
)

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func TestResolveMintsSession(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	sess, acct, created := r.Resolve("")
	if !created {
		t.Fatal("empty token should mint a session")
	}
	if len(sess) != tokenBytes*2 || !isHex(sess) {
		t.Fatalf("token = %q, want %d hex chars", sess, tokenBytes*2)
	}
	if acct == "" {
		t.Fatal("minted session has no account")
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

func TestResolveKnownToken(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	sess, acct, _ := r.Resolve("")

	sess2, acct2, created := r.Resolve(sess)
	if created {
		t.Fatal("known token should not mint a new session")
	}
	if sess2 != sess || acct2 != acct {
		t.Fatalf("Resolve(%q) = (%q, %q), want the original pair", sess, sess2, acct2)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

func TestResolveUnknownTokenNotAdopted(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	forged := "deadbeef"
	sess, _, created := r.Resolve(forged)
	if !created {
		t.Fatal("unknown token should mint a session")
	}
	if sess == forged {
		t.Fatal("presented token must never be adopted")
	}
	if _, ok := r.Lookup(forged); ok {
		t.Fatal("forged token should not resolve")
	}
}

func TestResolveDistinctSessions(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	s1, a1, _ := r.Resolve("")
	s2, a2, _ := r.Resolve("")
	if s1 == s2 {
		t.Fatal("two minted sessions share a token")
	}
	if a1 == a2 {
		t.Fatal("two minted sessions share an account")
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
}
