package proxy_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/parlons/pkg/provider/tts"
	"github.com/MrWong99/parlons/pkg/provider/tts/proxy"
)

func TestSynthesize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
			Lang string `json:"lang"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		switch body.Text {
		case "json-fail":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":"speech service unavailable"}`))
		case "text-fail":
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
		default:
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Write([]byte(body.Lang + ":" + body.Text))
		}
	}))
	defer srv.Close()

	c, err := proxy.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	got, ct, err := c.Synthesize(context.Background(), "bonjour", "fr")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(got) != "fr:bonjour" || ct != "audio/mpeg" {
		t.Errorf("got (%q, %q)", got, ct)
	}

	tests := []struct {
		text    string
		status  int
		message string
	}{
		{"json-fail", http.StatusBadGateway, "speech service unavailable"},
		{"text-fail", http.StatusInternalServerError, "upstream exploded"},
	}
	for _, tt := range tests {
		_, _, err := c.Synthesize(context.Background(), tt.text, "fr")
		var serr *tts.StatusError
		if !errors.As(err, &serr) {
			t.Errorf("%s: err = %v, want *tts.StatusError", tt.text, err)
			continue
		}
		if serr.Status != tt.status || serr.Message != tt.message {
			t.Errorf("%s: StatusError = %+v, want %d %q", tt.text, serr, tt.status, tt.message)
		}
	}

	if _, _, err := c.Synthesize(context.Background(), "", "fr"); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("empty text: err = %v", err)
	}
}
