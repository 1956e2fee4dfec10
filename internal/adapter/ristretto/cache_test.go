package ristretto

import (
	"context"
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	c.c.Wait() // ristretto applies writes asynchronously

	data, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(data) != "v" {
		t.Fatalf("Get = %q, %v; want v, true", data, ok)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	c.c.Wait()

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("expected key gone after delete")
	}
}

func TestGetMissing(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, ok, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected miss")
	}
}
