package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/mangavoice/internal/health"
	"github.com/MrWong99/mangavoice/internal/narration"
	"github.com/MrWong99/mangavoice/internal/observe"
	"github.com/MrWong99/mangavoice/pkg/provider/tts"
	"github.com/MrWong99/mangavoice/pkg/provider/tts/mock"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

type fixture struct {
	srv *httptest.Server
	gen *narration.Generator
	sp  *mock.Provider
	el  *mock.Provider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sp: &mock.Provider{ProviderName: "speechify", ListVoicesResult: []tts.Voice{
			{ID: "scott", Gender: "male", Locale: "en-US", Tags: []string{"timbre:deep"}},
			{ID: "kristy", Gender: "female", Locale: "en-US"},
			{ID: "lisa", Gender: "female", Locale: "fr-FR"},
		}},
		el: &mock.Provider{ProviderName: "elevenlabs"},
	}
	met, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	f.gen, err = narration.New(context.Background(), narration.Config{
		OutputDir: t.TempDir(),
		LinePause: -1,
		Metrics:   met,
	}, func(name narration.ProviderName) (tts.Provider, error) {
		switch name {
		case narration.Speechify:
			return f.sp, nil
		case narration.ElevenLabs:
			return f.el, nil
		}
		return nil, fmt.Errorf("unknown provider %s", name)
	})
	if err != nil {
		t.Fatalf("narration.New: %v", err)
	}

	s := New(f.gen, Config{},
		WithMetrics(met),
		WithHealth(health.New(health.Checker{Name: "providers", Check: f.gen.Ready})),
		WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "# metrics\n")
		})),
	)
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

var script = map[string]any{
	"script": []map[string]string{
		{"role": "narrator", "description": "The door creaked open."},
		{"role": "character", "description": "Who's there?"},
	},
}

// ─── tests ────────────────────────────────────────────────────────────────────

func TestGenerate_CreatesAudio(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, "POST", "/v1/audio", map[string]any{
		"script":   script["script"],
		"language": "fr-FR",
		"rate":     180,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	var got struct {
		Name            string  `json:"name"`
		Provider        string  `json:"provider"`
		Lines           int     `json:"lines"`
		Language        string  `json:"language"`
		DurationSeconds float64 `json:"duration_seconds"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Provider != "speechify" || got.Lines != 2 || got.Language != "fr-FR" || got.DurationSeconds <= 0 {
		t.Errorf("response = %+v", got)
	}
	for _, c := range f.sp.Calls() {
		if c.Request.Rate != 180 {
			t.Errorf("rate = %d, want 180", c.Request.Rate)
		}
	}

	resp, body = f.do(t, "GET", "/v1/audio/"+got.Name, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("info status = %d, body %s", resp.StatusCode, body)
	}
	var info narration.AudioInfo
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatal(err)
	}
	if info.Format != "wav" || info.DurationSeconds <= 0 || info.Path != got.Name {
		t.Errorf("info = %+v", info)
	}

	resp, body = f.do(t, "GET", "/v1/audio/"+got.Name+"/content", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("content status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !bytes.HasPrefix(body, []byte("RIFF")) {
		t.Error("content is not a WAV file")
	}
}

func TestGenerate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(f *fixture)
		body       any
		wantStatus int
	}{
		{
			name:       "empty script",
			body:       map[string]any{"script": []any{}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed json",
			body:       `{"script": [`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			body:       `{"scrip": []}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "negative rate",
			body:       map[string]any{"script": script["script"], "rate": -1},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "both providers fail",
			setup: func(f *fixture) {
				f.sp.SynthesizeErr = errors.New("quota")
				f.el.SynthesizeErr = errors.New("unauthorized")
			},
			body:       script,
			wantStatus: http.StatusBadGateway,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.setup != nil {
				tc.setup(f)
			}
			resp, body := f.do(t, "POST", "/v1/audio", tc.body)
			if resp.StatusCode != tc.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", resp.StatusCode, tc.wantStatus, body)
			}
			var e errorResponse
			if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
				t.Errorf("error body = %s", body)
			}
		})
	}
}

func TestGenerate_FallbackProviderReported(t *testing.T) {
	f := newFixture(t)
	f.sp.SynthesizeErr = errors.New("503 from upstream")

	resp, body := f.do(t, "POST", "/v1/audio", script)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"provider":"elevenlabs"`) {
		t.Errorf("body %s does not report elevenlabs", body)
	}
}

func TestAudioInfo_NotFoundAndInvalidNames(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		path string
		want int
	}{
		{"/v1/audio/missing.wav", http.StatusNotFound},
		{"/v1/audio/missing.wav/content", http.StatusNotFound},
		{"/v1/audio/.hidden", http.StatusBadRequest},
	}
	for _, tc := range tests {
		resp, body := f.do(t, "GET", tc.path, nil)
		if resp.StatusCode != tc.want {
			t.Errorf("GET %s = %d, want %d (body %s)", tc.path, resp.StatusCode, tc.want, body)
		}
	}
}

func TestVoices_Filtering(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		query   string
		wantIDs []string
	}{
		{"", []string{"scott", "kristy", "lisa"}},
		{"?gender=female", []string{"kristy", "lisa"}},
		{"?gender=female&locale=fr-FR", []string{"lisa"}},
		{"?tag=timbre:deep", []string{"scott"}},
		{"?gender=robot", []string{}},
		{"?name=KRISTY", []string{"kristy"}},
	}
	for _, tc := range tests {
		resp, body := f.do(t, "GET", "/v1/voices"+tc.query, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET /v1/voices%s = %d", tc.query, resp.StatusCode)
		}
		var cat narration.VoiceCatalog
		if err := json.Unmarshal(body, &cat); err != nil {
			t.Fatal(err)
		}
		if cat.Count != len(tc.wantIDs) || len(cat.Voices) != len(tc.wantIDs) {
			t.Errorf("%s: count = %d, want %d", tc.query, cat.Count, len(tc.wantIDs))
			continue
		}
		for i, v := range cat.Voices {
			if v.ID != tc.wantIDs[i] {
				t.Errorf("%s: voice %d = %s, want %s", tc.query, i, v.ID, tc.wantIDs[i])
			}
		}
		if cat.Voices == nil {
			t.Errorf("%s: voices is null", tc.query)
		}
	}
}

func TestVoices_ProviderError(t *testing.T) {
	f := newFixture(t)
	f.sp.ListVoicesErr = errors.New("unauthorized")
	resp, _ := f.do(t, "GET", "/v1/voices", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadGateway)
	}
}

func TestStatistics(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, "POST", "/v1/statistics", map[string]string{"text": "one two three"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var st narration.Statistics
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatal(err)
	}
	if st.Words != 3 || st.Characters != 13 || st.EstimatedDurationSeconds != 1.2 || st.Provider != narration.Speechify {
		t.Errorf("statistics = %+v", st)
	}
}

func TestLanguages(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, "GET", "/v1/languages", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got languagesResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Languages) != len(narration.Languages()) {
		t.Errorf("got %d languages", len(got.Languages))
	}
	if got.Current.Language != "en" || got.Current.Rate != narration.DefaultRate {
		t.Errorf("current = %+v", got.Current)
	}
}

func TestHealthAndMetricsMounted(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, _ := f.do(t, "GET", path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d", path, resp.StatusCode)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, "GET", "/v1/audio", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	f := newFixture(t)
	s := New(f.gen, Config{ShutdownTimeout: time.Second})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for range 50 {
		if resp, err = http.Get(url); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never answered: %v", err)
	}
	resp.Body.Close()
	// No health handler configured on this server.
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /healthz = %d, want 404", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
