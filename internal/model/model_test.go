package model

import (
	"testing"
	"time"
)

func TestTokenExpired(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	c := &Credential{}
	if c.TokenExpired(now) {
		t.Error("credential without expiry never expires")
	}

	past := now.Add(-time.Minute)
	c.TokenExpiry = &past
	if !c.TokenExpired(now) {
		t.Error("past expiry not reported")
	}

	c.TokenExpiry = &now
	if !c.TokenExpired(now) {
		t.Error("expiry at the boundary not reported")
	}

	future := now.Add(time.Hour)
	c.TokenExpiry = &future
	if c.TokenExpired(now) {
		t.Error("future expiry reported as expired")
	}
}
