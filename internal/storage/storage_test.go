package storage

import (
	"context"
	"errors"
	"testing"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		want    Ref
		wantErr bool
	}{
		{"plain", "s3://input-bucket/clothes/100_01.webp", Ref{Bucket: "input-bucket", Key: "clothes/100_01.webp"}, false},
		{"nested key", "s3://processed/100/100.mp4", Ref{Bucket: "processed", Key: "100/100.mp4"}, false},
		{"single segment key", "s3://bucket/file.png", Ref{Bucket: "bucket", Key: "file.png"}, false},
		{"missing scheme", "input-bucket/clothes/100_01.webp", Ref{}, true},
		{"https scheme", "https://bucket/key", Ref{}, true},
		{"no key", "s3://bucket", Ref{}, true},
		{"empty key", "s3://bucket/", Ref{}, true},
		{"empty", "", Ref{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseURI(%q) = %v, want error", tt.uri, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseURI(%q) returned error: %v", tt.uri, err)
			}
			if got != tt.want {
				t.Errorf("ParseURI(%q) = %v, want %v", tt.uri, got, tt.want)
			}
		})
	}
}

func TestRef_URIRoundTrip(t *testing.T) {
	ref := Ref{Bucket: "processed", Key: "200/200_01.webp"}
	got, err := ParseURI(ref.URI())
	if err != nil {
		t.Fatalf("ParseURI returned error: %v", err)
	}
	if got != ref {
		t.Errorf("round trip = %v, want %v", got, ref)
	}
}

func TestRef_Filename(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"clothes/100_01.webp", "100_01.webp"},
		{"100/100.mp4", "100.mp4"},
		{"deep/nested/path/file.png", "file.png"},
		{"file.png", "file.png"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := Ref{Bucket: "b", Key: tt.key}.Filename()
			if got != tt.expected {
				t.Errorf("Filename() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestMemoryStore_ListFiltersByBucketAndPrefix(t *testing.T) {
	ctx := context.Background()
	objects := NewMemoryStore()
	objects.Seed(Ref{Bucket: "input", Key: "clothes/100_01.webp"}, []byte("a"))
	objects.Seed(Ref{Bucket: "input", Key: "clothes/100_02.webp"}, []byte("b"))
	objects.Seed(Ref{Bucket: "input", Key: "underwear/200_01.webp"}, []byte("c"))
	objects.Seed(Ref{Bucket: "processed", Key: "clothes/300_01.webp"}, []byte("d"))

	listed, err := objects.List(ctx, "input", "clothes/")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	want := []string{"clothes/100_01.webp", "clothes/100_02.webp"}
	if len(listed) != len(want) {
		t.Fatalf("List returned %d objects, want %d", len(listed), len(want))
	}
	for i, obj := range listed {
		if obj.Key != want[i] {
			t.Errorf("listed[%d].Key = %q, want %q", i, obj.Key, want[i])
		}
	}

	all, err := objects.List(ctx, "input", "")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List with empty prefix returned %d objects, want 3", len(all))
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	objects := NewMemoryStore()
	_, err := objects.Get(context.Background(), Ref{Bucket: "input", Key: "nope.webp"})
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestMemoryStore_DeleteMissingIsNoError(t *testing.T) {
	objects := NewMemoryStore()
	if err := objects.Delete(context.Background(), Ref{Bucket: "input", Key: "nope.webp"}); err != nil {
		t.Errorf("Delete of missing key returned error: %v", err)
	}
}
