package traccar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDevices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/devices" {
			t.Errorf("path = %q", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":7,"name":"Truck 7","status":"online","lastUpdate":"2026-03-14T12:00:00Z"},{"id":8,"name":"Van 8","status":"offline","lastUpdate":"2026-03-14T11:00:00Z"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "admin", "secret")
	devices, err := c.Devices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices", len(devices))
	}
	if devices[0].ID != 7 || devices[0].Name != "Truck 7" {
		t.Fatalf("device = %+v", devices[0])
	}
}

func TestDevicesNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "admin", "secret")
	if _, err := c.Devices(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
