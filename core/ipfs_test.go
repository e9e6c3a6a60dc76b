package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIPFSClientGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ipfs/QmHash" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := NewIPFSClient(srv.URL, nil)
	data, err := c.Get(context.Background(), "QmHash", time.Second, 1)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("Get() = %q, want %q", data, "payload")
	}
}

func TestIPFSClientGetRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewIPFSClient(srv.URL, nil)
	data, err := c.Get(context.Background(), "QmHash", time.Second, 3)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(data) != "ok" {
		t.Fatalf("Get() = %q, want %q", data, "ok")
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestIPFSClientAddBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Hash":"QmNewHash"}`))
	}))
	defer srv.Close()

	c := NewIPFSClient(srv.URL, nil)
	hash, err := c.AddBytes(context.Background(), []byte("hello"), 1)
	if err != nil {
		t.Fatalf("AddBytes() error: %v", err)
	}
	if hash != "QmNewHash" {
		t.Fatalf("AddBytes() = %q, want %q", hash, "QmNewHash")
	}
}

func TestIPFSClientPinAdd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewIPFSClient(srv.URL, nil)
	if err := c.PinAdd(context.Background(), "QmHash", time.Second, 1); err != nil {
		t.Fatalf("PinAdd() error: %v", err)
	}
}

func TestIPFSClientSubscribeTopic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":"aGVsbG8="}` + "\n"))
	}))
	defer srv.Close()

	c := NewIPFSClient(srv.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	frames, err := c.SubscribeTopic(ctx, "aleph")
	if err != nil {
		t.Fatalf("SubscribeTopic() error: %v", err)
	}
	select {
	case data := <-frames:
		if string(data) != "hello" {
			t.Fatalf("frame = %q, want %q", data, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestComputeCID(t *testing.T) {
	v0, err := ComputeCID([]byte("hi"), 0)
	if err != nil {
		t.Fatalf("ComputeCID(v0) error: %v", err)
	}
	v1, err := ComputeCID([]byte("hi"), 1)
	if err != nil {
		t.Fatalf("ComputeCID(v1) error: %v", err)
	}
	if v0 == v1 {
		t.Fatalf("expected distinct CIDs for v0/v1, got %q for both", v0)
	}
}
