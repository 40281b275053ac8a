package profile

import (
	"context"
	"testing"
)

func TestProfileValid(t *testing.T) {
	tests := []struct {
		name string
		prof *Profile
		want bool
	}{
		{"nil", nil, false},
		{"empty user id", &Profile{ExperimentBucketMap: map[string]Decision{}}, false},
		{"nil bucket map", &Profile{UserID: "user_1"}, false},
		{"well formed", New("user_1"), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.prof.Valid(); got != tc.want {
				t.Errorf("Valid() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestProfileVariationRoundtrip(t *testing.T) {
	prof := New("user_1")
	if got := prof.VariationFor("111127"); got != "" {
		t.Fatalf("expected no stored variation, got %q", got)
	}

	prof.SetVariationFor("111127", "111128")
	if got := prof.VariationFor("111127"); got != "111128" {
		t.Errorf("VariationFor = %q, want 111128", got)
	}

	prof.SetVariationFor("111127", "111129")
	if got := prof.VariationFor("111127"); got != "111129" {
		t.Errorf("overwrite failed: got %q, want 111129", got)
	}
}

func TestMemoryStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if prof, err := store.Lookup(ctx, "absent"); err != nil || prof != nil {
		t.Fatalf("absent user: got (%+v, %v), want (nil, nil)", prof, err)
	}

	prof := New("user_1")
	prof.SetVariationFor("111127", "111128")
	if err := store.Save(ctx, prof); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Lookup(ctx, "user_1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got == nil || got.VariationFor("111127") != "111128" {
		t.Fatalf("roundtrip lost the decision: %+v", got)
	}
}

func TestMemoryStoreCopiesProfiles(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	prof := New("user_1")
	prof.SetVariationFor("111127", "111128")
	if err := store.Save(ctx, prof); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Mutating the saved profile must not touch the stored copy.
	prof.SetVariationFor("111127", "999999")

	got, err := store.Lookup(ctx, "user_1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.VariationFor("111127") != "111128" {
		t.Errorf("store leaked a shared reference: got %q", got.VariationFor("111127"))
	}

	// And mutating a looked-up profile must not touch the store either.
	got.SetVariationFor("111127", "888888")
	again, _ := store.Lookup(ctx, "user_1")
	if again.VariationFor("111127") != "111128" {
		t.Errorf("lookup leaked a shared reference: got %q", again.VariationFor("111127"))
	}
}

func TestRedisStoreEmptyAddr(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "", 0); err == nil {
		t.Fatal("expected an error for an empty address")
	}
}

func TestNewStoreFactory(t *testing.T) {
	store, err := NewStore(context.Background(), "memory", Options{})
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*MemoryStore); !ok {
		t.Errorf("expected a MemoryStore, got %T", store)
	}

	if _, err := NewStore(context.Background(), "cassandra", Options{}); err == nil {
		t.Error("expected an error for an unsupported store type")
	}
}
