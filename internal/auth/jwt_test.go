package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/medgate/internal/errs"
)

func makeJWT(t *testing.T, sub string, key []byte, method jwt.SigningMethod, iat time.Time, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(iat),
		NotBefore: jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(iat.Add(ttl)),
	}
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func TestVerify_Valid(t *testing.T) {
	t.Parallel()
	key := []byte("secret")
	v := NewVerifier(key)
	sub := uuid.Must(uuid.NewV4())

	tok := makeJWT(t, sub.String(), key, jwt.SigningMethodHS256, time.Now().UTC().Add(-time.Minute), 10*time.Minute)
	id, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id != sub {
		t.Fatalf("subject mismatch: %s vs %s", id, sub)
	}
}

func TestVerify_Rejects(t *testing.T) {
	t.Parallel()
	key := []byte("secret")
	v := NewVerifier(key)
	sub := uuid.Must(uuid.NewV4()).String()
	now := time.Now().UTC()

	cases := map[string]string{
		"expired":     makeJWT(t, sub, key, jwt.SigningMethodHS256, now.Add(-2*time.Hour), time.Hour),
		"not yet":     makeJWT(t, sub, key, jwt.SigningMethodHS256, now.Add(time.Hour), time.Hour),
		"wrong alg":   makeJWT(t, sub, key, jwt.SigningMethodHS384, now, time.Hour),
		"wrong key":   makeJWT(t, sub, []byte("other"), jwt.SigningMethodHS256, now, time.Hour),
		"bad subject": makeJWT(t, "not-a-uuid", key, jwt.SigningMethodHS256, now, time.Hour),
		"nil subject": makeJWT(t, uuid.Nil.String(), key, jwt.SigningMethodHS256, now, time.Hour),
		"garbage":     "this-is-not-a-jwt",
	}
	for name, tok := range cases {
		if _, err := v.Verify(tok); !errors.Is(err, errs.ErrUnauthenticated) {
			t.Fatalf("%s: want ErrUnauthenticated, got %v", name, err)
		}
	}
}

func TestIssue_RoundTrip(t *testing.T) {
	t.Parallel()
	key := []byte("k")
	sub := uuid.Must(uuid.NewV4())

	tok, err := Issue(key, sub, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := NewVerifier(key).Verify(tok)
	if err != nil || got != sub {
		t.Fatalf("verify issued: %s %v", got, err)
	}

	if _, err := Issue(nil, sub, time.Hour, time.Now()); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("empty key: %v", err)
	}
	if _, err := Issue(key, uuid.Nil, time.Hour, time.Now()); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("nil subject: %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()
	if got, err := BearerToken("Bearer abc.def.ghi"); err != nil || got != "abc.def.ghi" {
		t.Fatalf("ok: got=%q err=%v", got, err)
	}
	if got, err := BearerToken("  bearer   x "); err != nil || got != "x" {
		t.Fatalf("case/space: got=%q err=%v", got, err)
	}
	for _, h := range []string{"", "Basic foo", "Bearer   ", "Bearerabc"} {
		if _, err := BearerToken(h); !errors.Is(err, errs.ErrUnauthenticated) {
			t.Fatalf("%q: want ErrUnauthenticated, got %v", h, err)
		}
	}
}
