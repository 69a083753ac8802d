package service

import (
	"context"
	"testing"
)

func TestSeenWithoutRedis(t *testing.T) {
	s := NewDedupeService(nil)

	if s.Seen(context.Background(), "delivery-1") {
		t.Fatal("without redis every delivery must be processed")
	}
}

func TestSeenEmptyDeliveryID(t *testing.T) {
	s := NewDedupeService(nil)

	if s.Seen(context.Background(), "") {
		t.Fatal("an empty delivery id must never be treated as seen")
	}
}

func TestForgetWithoutRedis(t *testing.T) {
	s := NewDedupeService(nil)

	// Must be a no-op, not a panic.
	s.Forget(context.Background(), "delivery-1")
	s.Forget(context.Background(), "")
}
