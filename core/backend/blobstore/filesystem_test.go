package blobstore_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/relabs-tech/qvarn/core/backend/blobstore"
)

func TestLocalPutGet(t *testing.T) {
	dir, err := os.MkdirTemp("", "blobstore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir) // clean up

	f, err := blobstore.NewLocalFilesystem(blobstore.LocalConfiguration{BasePath: dir})
	if err != nil {
		t.Fatal(err)
	}

	blob := []byte("a picture of an office building")
	if err := f.Put("orgs/ee26-448/photo", "image/png", blob); err != nil {
		t.Fatal(err)
	}
	got, err := f.Get("orgs/ee26-448/photo")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("got %q, want %q", got, blob)
	}

	// overwrite
	blob = []byte("a newer picture")
	if err := f.Put("orgs/ee26-448/photo", "image/png", blob); err != nil {
		t.Fatal(err)
	}
	got, err = f.Get("orgs/ee26-448/photo")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("got %q, want %q", got, blob)
	}
}

func TestLocalDeleteAllWithPrefix(t *testing.T) {
	dir, err := os.MkdirTemp("", "blobstore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir) // clean up

	f, err := blobstore.NewLocalFilesystem(blobstore.LocalConfiguration{BasePath: dir})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.Put("orgs/ee26-448/photo", "", []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := f.Put("orgs/ee26-448/contract", "", []byte("two")); err != nil {
		t.Fatal(err)
	}
	if err := f.Put("orgs/ee26-999/photo", "", []byte("three")); err != nil {
		t.Fatal(err)
	}

	if err := f.DeleteAllWithPrefix("orgs/ee26-448/"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Get("orgs/ee26-448/photo"); err == nil {
		t.Fatal("expected photo to be deleted")
	}
	if _, err := f.Get("orgs/ee26-448/contract"); err == nil {
		t.Fatal("expected contract to be deleted")
	}
	if _, err := f.Get("orgs/ee26-999/photo"); err != nil {
		t.Fatal("expected other resource to survive:", err)
	}
}

func TestLocalRejectsDotDot(t *testing.T) {
	dir, err := os.MkdirTemp("", "blobstore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir) // clean up

	f, err := blobstore.NewLocalFilesystem(blobstore.LocalConfiguration{BasePath: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Put("../escape", "", []byte("x")); err == nil {
		t.Fatal("expected error for key with ..")
	}
	if _, err := f.Get("../escape"); err == nil {
		t.Fatal("expected error for key with ..")
	}
	if err := f.DeleteAllWithPrefix("../"); err == nil {
		t.Fatal("expected error for prefix with ..")
	}
}
