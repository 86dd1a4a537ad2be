package store

import (
	"context"
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no migrations embedded")
	}
	for _, f := range files {
		b, err := fs.ReadFile(migrationsFS, f)
		if err != nil {
			t.Fatal(err)
		}
		s := string(b)
		if !strings.Contains(s, "-- +goose Up") || !strings.Contains(s, "-- +goose Down") {
			t.Errorf("%s lacks goose annotations", f)
		}
	}
}

func TestNilHandlesAreSafe(t *testing.T) {
	var d *DB
	if err := d.Close(); err != nil {
		t.Error(err)
	}
	var r *Redis
	if r.Healthy(context.Background()) {
		t.Error("nil redis reported healthy")
	}
	if err := r.Close(); err != nil {
		t.Error(err)
	}
}
