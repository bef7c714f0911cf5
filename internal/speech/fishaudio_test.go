package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSynthesize(t *testing.T) {
	var got ttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tts" {
			t.Errorf("path = %s, want /v1/tts", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3fake"))
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, "voice-1")
	url, err := c.SynthesizeDataURL(context.Background(), "こんにちは")
	if err != nil {
		t.Fatalf("SynthesizeDataURL: %v", err)
	}
	if url != "data:audio/mp3;base64,SUQzZmFrZQ==" {
		t.Errorf("data url = %q", url)
	}
	if got.Text != "こんにちは" || got.ReferenceID != "voice-1" || got.Format != "mp3" {
		t.Errorf("request = %+v", got)
	}
}

func TestSynthesize_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	_, err := NewClient("k", srv.URL, "").Synthesize(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "402") {
		t.Fatalf("err = %v, want status 402", err)
	}
}
