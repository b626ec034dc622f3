package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"kidsgate.org/internal/profile"
)

func authProfile() profile.Profile {
	return profile.Profile{ID: "child-1", FirstName: "Alice", LastName: "Example"}
}

func TestLoginCheckInvalidate(t *testing.T) {
	a, err := NewPortalAuth("test-secret")
	if err != nil {
		t.Fatalf("NewPortalAuth: %v", err)
	}

	session, err := a.Login(context.Background(), authProfile())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.ID == "" || session.Token == "" {
		t.Fatalf("incomplete session: %+v", session)
	}
	if session.ProfileID != "child-1" {
		t.Fatalf("unexpected session profile: %s", session.ProfileID)
	}

	ok, err := a.CheckSession(context.Background(), session.ID)
	if err != nil || !ok {
		t.Fatalf("CheckSession: ok=%v err=%v", ok, err)
	}

	if err := a.InvalidateSession(context.Background(), session.ID); err != nil {
		t.Fatalf("InvalidateSession: %v", err)
	}
	ok, err = a.CheckSession(context.Background(), session.ID)
	if err != nil || ok {
		t.Fatalf("expected closed session, ok=%v err=%v", ok, err)
	}
}

func TestSessionExpiry(t *testing.T) {
	now := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	a, err := NewPortalAuth("test-secret",
		WithSessionTTL(10*time.Minute),
		WithPortalClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewPortalAuth: %v", err)
	}
	session, err := a.Login(context.Background(), authProfile())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	now = now.Add(11 * time.Minute)
	ok, err := a.CheckSession(context.Background(), session.ID)
	if ok || !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, ok=%v err=%v", ok, err)
	}
}

func TestParseToken(t *testing.T) {
	a, err := NewPortalAuth("test-secret")
	if err != nil {
		t.Fatalf("NewPortalAuth: %v", err)
	}
	session, err := a.Login(context.Background(), authProfile())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	claims, err := a.ParseToken(session.Token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "child-1" || claims.SessionID != session.ID {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := a.ParseToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	other, err := NewPortalAuth("different-secret")
	if err != nil {
		t.Fatalf("NewPortalAuth: %v", err)
	}
	if _, err := other.ParseToken(session.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign-secret rejection, got %v", err)
	}
}

func TestLoginRejectsInvalidProfile(t *testing.T) {
	a, err := NewPortalAuth("test-secret")
	if err != nil {
		t.Fatalf("NewPortalAuth: %v", err)
	}
	if _, err := a.Login(context.Background(), profile.Profile{}); !errors.Is(err, profile.ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}
}
