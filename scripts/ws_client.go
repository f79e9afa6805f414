// Package main runs a demo WebSocket client for the live fleet stream.
package main

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Connect WS first so we see our own update arrive.
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/ws/fleet"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = c.Close() }()
	log.Printf("connected to %s", u.String())

	go func() {
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("event: %s", msg)
		}
	}()

	// Push a fake position batch through the webhook.
	body := []byte(`[{"deviceId":1,"latitude":-23.55,"longitude":-46.63,"speed":12,"attributes":{"ignition":true,"totalDistance":1234567}}]`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/telemetry/positions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	log.Printf("telemetry webhook: %s", resp.Status)

	time.Sleep(5 * time.Second)
}
