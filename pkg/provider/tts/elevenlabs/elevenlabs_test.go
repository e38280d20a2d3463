package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parlons/pkg/provider/tts"
)

// ---- URL construction ----

func TestBuildURL(t *testing.T) {
	p, err := New("key", "voice 1", WithModel("eleven_flash_v2_5"), WithOutputFormat("pcm_16000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	raw, err := p.buildURL("fr")
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()

	if u.Scheme != "wss" || u.Host != "api.elevenlabs.io" {
		t.Errorf("endpoint = %s://%s", u.Scheme, u.Host)
	}
	if u.Path != "/v1/text-to-speech/voice 1/stream-input" {
		t.Errorf("path = %q", u.Path)
	}
	if q.Get("model_id") != "eleven_flash_v2_5" || q.Get("output_format") != "pcm_16000" || q.Get("language_code") != "fr" {
		t.Errorf("query = %v", q)
	}

	raw, _ = p.buildURL("")
	u, _ = url.Parse(raw)
	if u.Query().Has("language_code") {
		t.Error("language_code set for empty language")
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New("", "v"); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("k", ""); err == nil {
		t.Error("expected error for empty voice id")
	}
	if _, err := New("k", "v", WithBaseURL("ftp://x")); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

// ---- output wrapping ----

func TestWrapOutput(t *testing.T) {
	mp3 := []byte{0xFF, 0xFB, 0x90, 0x00}
	if out, ct := wrapOutput(mp3, "mp3_44100_128"); ct != "audio/mpeg" || len(out) != len(mp3) {
		t.Errorf("mp3: %d bytes of %q", len(out), ct)
	}

	pcm := make([]byte, 8)
	binary.LittleEndian.PutUint16(pcm[2:], uint16(1000))
	out, ct := wrapOutput(pcm, "pcm_22050")
	if ct != "audio/wav" || len(out) != 44+len(pcm) {
		t.Fatalf("pcm: %d bytes of %q", len(out), ct)
	}
	if rate := binary.LittleEndian.Uint32(out[24:28]); rate != 22050 {
		t.Errorf("wav sample rate = %d, want 22050", rate)
	}
	if s := int16(binary.LittleEndian.Uint16(out[46:48])); s != 1000 {
		t.Errorf("second sample = %d, want 1000", s)
	}
}

// ---- end-to-end against a local WebSocket server ----

// fakeElevenLabs checks the handshake and text messages, then answers with
// two audio chunks and a final marker. The text messages are sent on texts.
func fakeElevenLabs(t *testing.T, texts chan<- []textMessage) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("model_id") == "missing" {
			http.Error(w, "unknown model", http.StatusNotFound)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		var got []textMessage
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m textMessage
			if err := json.Unmarshal(msg, &m); err != nil {
				return
			}
			got = append(got, m)
			if m.Text == "" {
				break
			}
		}
		texts <- got

		if got[0].XiAPIKey != "secret" {
			b, _ := json.Marshal(audioResponse{Error: "auth_error", Message: "invalid api key"})
			conn.Write(ctx, websocket.MessageText, b)
			conn.Close(websocket.StatusPolicyViolation, "auth")
			return
		}
		for _, chunk := range []string{"ID3", "-audio"} {
			b, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString([]byte(chunk))})
			if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
				return
			}
		}
		b, _ := json.Marshal(audioResponse{IsFinal: true})
		conn.Write(ctx, websocket.MessageText, b)
		// The client closes after the final marker; wait for it.
		conn.Read(ctx)
	}))
}

func TestSynthesize_CollectsAudio(t *testing.T) {
	texts := make(chan []textMessage, 1)
	srv := fakeElevenLabs(t, texts)
	defer srv.Close()

	p, err := New("secret", "v1", WithBaseURL(srv.URL), WithLanguage("fr"))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	audio, ct, err := p.Synthesize(ctx, "  bonjour ", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "ID3-audio" || ct != "audio/mpeg" {
		t.Errorf("got %q (%s)", audio, ct)
	}

	got := <-texts
	if len(got) != 3 {
		t.Fatalf("server received %d messages, want 3", len(got))
	}
	if got[0].Text != " " || got[0].VoiceSettings == nil {
		t.Errorf("handshake = %+v", got[0])
	}
	if got[1].Text != "bonjour " || !got[1].TryTriggerGeneration {
		t.Errorf("text message = %+v", got[1])
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := fakeElevenLabs(t, make(chan []textMessage, 1))
	defer srv.Close()

	p, _ := New("wrong", "v1", WithBaseURL(srv.URL))
	_, _, err := p.Synthesize(context.Background(), "bonjour", "fr")
	if err == nil {
		t.Fatal("expected error for rejected api key")
	}
}

func TestSynthesize_RejectedHandshake(t *testing.T) {
	srv := fakeElevenLabs(t, make(chan []textMessage, 1))
	defer srv.Close()

	p, _ := New("secret", "v1", WithBaseURL(srv.URL), WithModel("missing"))
	_, _, err := p.Synthesize(context.Background(), "bonjour", "fr")

	var serr *tts.StatusError
	if !errors.As(err, &serr) || serr.Status != http.StatusNotFound {
		t.Fatalf("err = %v, want StatusError 404", err)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := New("k", "v")
	if _, _, err := p.Synthesize(context.Background(), "   ", "fr"); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}
