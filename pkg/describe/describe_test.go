package describe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-wayfinder/internal/log"
	"github.com/teslashibe/go-wayfinder/pkg/ani"
	"github.com/teslashibe/go-wayfinder/pkg/scene"
)

func person(dist scene.Distance, dir scene.Direction) scene.Detection {
	return scene.Detection{Label: "person", Confidence: 0.9, Distance: dist, Direction: dir}
}

func TestSelectMode(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want Mode
	}{
		{"plain", Request{Detections: []scene.Detection{person(scene.DistanceFar, scene.DirectionAhead)}}, ModeNormal},
		{"traffic", Request{Detections: []scene.Detection{{Label: "car"}}}, ModeEmergency},
		{"urgent", Request{Detections: []scene.Detection{person(scene.DistanceVeryClose, scene.DirectionAhead)}, Urgent: true}, ModeUrgent},
		{"motion", Request{
			Detections:  []scene.Detection{person(scene.DistanceClose, scene.DirectionAhead)},
			Assessments: []ani.Assessment{{Label: "person", Risk: ani.RiskMedium}},
		}, ModeAnticipatory},
		{"imminent motion", Request{
			Detections:  []scene.Detection{person(scene.DistanceClose, scene.DirectionAhead)},
			Assessments: []ani.Assessment{{Label: "person", Risk: ani.RiskImminent}},
		}, ModeUrgent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectMode(tt.req); got != tt.want {
				t.Errorf("SelectMode = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	normal := BuildPrompt(Request{Detections: []scene.Detection{person(scene.DistanceClose, scene.DirectionLeft)}})
	if normal.Temperature != 0.4 || normal.MaxTokens != 100 {
		t.Errorf("normal budget = %v/%d", normal.Temperature, normal.MaxTokens)
	}
	if !strings.Contains(normal.Text, "- Person (left, close)") {
		t.Errorf("normal prompt missing detection line:\n%s", normal.Text)
	}

	urgent := BuildPrompt(Request{Detections: []scene.Detection{person(scene.DistanceVeryClose, scene.DirectionAhead)}, Urgent: true})
	if urgent.Temperature != 0.3 || urgent.MaxTokens != 80 {
		t.Errorf("urgent budget = %v/%d", urgent.Temperature, urgent.MaxTokens)
	}
	if !strings.Contains(urgent.Text, "Provide urgent safety guidance") {
		t.Errorf("urgent prompt:\n%s", urgent.Text)
	}

	motion := BuildPrompt(Request{
		Detections: []scene.Detection{{Label: "bicycle"}},
		Assessments: []ani.Assessment{{
			Label: "bicycle", Direction: scene.DirectionLeft, Distance: scene.DistanceClose,
			Motion: ani.MotionCrossing, Risk: ani.RiskHigh,
		}},
	})
	if motion.Mode != ModeAnticipatory {
		t.Errorf("mode = %s", motion.Mode)
	}
	if !strings.Contains(motion.Text, "- Bicycle (left, close) - crossing - RISK: HIGH") {
		t.Errorf("motion prompt:\n%s", motion.Text)
	}
	// Traffic in view keeps the strict budget even in anticipatory mode.
	if motion.Temperature != 0.3 {
		t.Errorf("temperature = %v", motion.Temperature)
	}
}

func TestFormatDetections(t *testing.T) {
	dets := []scene.Detection{
		{Label: "traffic light"},
		person(scene.DistanceFar, scene.DirectionRight),
	}
	want := "- Traffic Light\n- Person (right, far)"
	if got := FormatDetections(dets); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := FormatDetections(nil); got != "No objects detected." {
		t.Errorf("empty = %q", got)
	}

	many := make([]scene.Detection, 15)
	for i := range many {
		many[i] = scene.Detection{Label: "cup"}
	}
	if n := strings.Count(FormatDetections(many), "\n") + 1; n != maxPromptItems {
		t.Errorf("lines = %d, want %d", n, maxPromptItems)
	}
}

func TestClean(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  Stop now.  ", "Stop now."},
		{`"Person ahead."`, "Person ahead."},
		{`'Car on your left.'`, "Car on your left."},
		{"\n\"\"\n", ""},
	}
	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		dets []scene.Detection
		want string
	}{
		{
			"single danger",
			[]scene.Detection{{Label: "chair", Distance: scene.DistanceVeryClose, Direction: scene.DirectionLeft}},
			"Danger! chair very close left. Stop now. Proceed with extreme caution.",
		},
		{
			"close pair",
			[]scene.Detection{
				{Label: "bench", Distance: scene.DistanceClose, Direction: scene.DirectionAhead},
				{Label: "dog", Distance: scene.DistanceClose, Direction: scene.DirectionRight},
			},
			"Bench and dog close. Slow down and be careful.",
		},
		{
			"moderate only",
			[]scene.Detection{{Label: "person", Distance: scene.DistanceModerate, Direction: scene.DirectionAhead}},
			"Person ahead at moderate distance. Environment safe, stay alert.",
		},
		{
			"far only",
			[]scene.Detection{{Label: "tree", Distance: scene.DistanceFar, Direction: scene.DirectionAhead}},
			"All clear.",
		},
		{
			"no depth",
			[]scene.Detection{{Label: "person"}, {Label: "car"}},
			"I see person and car. Environment safe, stay alert.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summarize(tt.dets); got != tt.want {
				t.Errorf("got  %q\nwant %q", got, tt.want)
			}
		})
	}
}

func testOpts(url string) []Option {
	return []Option{
		WithAPIKey("test-key"),
		WithBaseURL(url),
		WithRetry(2, time.Millisecond),
		WithLogger(log.Discard()),
	}
}

var sceneReq = Request{Detections: []scene.Detection{person(scene.DistanceClose, scene.DirectionAhead)}}

func TestGemini(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasSuffix(r.URL.Path, "/models/gemini-2.0-flash:generateContent") {
				t.Errorf("path = %s", r.URL.Path)
			}
			if r.URL.Query().Get("key") != "test-key" {
				t.Error("missing key")
			}
			var body geminiRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Error(err)
			}
			if body.GenerationConfig.MaxOutputTokens != 100 {
				t.Errorf("maxOutputTokens = %d", body.GenerationConfig.MaxOutputTokens)
			}
			w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":" \"A person is a few steps ahead.\" "}]}}]}`))
		}))
		defer srv.Close()

		g, err := NewGemini(testOpts(srv.URL)...)
		if err != nil {
			t.Fatal(err)
		}
		got, err := g.Describe(context.Background(), sceneReq)
		if err != nil {
			t.Fatal(err)
		}
		if got != "A person is a few steps ahead." {
			t.Errorf("got %q", got)
		}
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"error":{"code":503,"message":"overloaded"}}`))
				return
			}
			w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Path clear."}]}}]}`))
		}))
		defer srv.Close()

		g, _ := NewGemini(testOpts(srv.URL)...)
		got, err := g.Describe(context.Background(), sceneReq)
		if err != nil || got != "Path clear." {
			t.Fatalf("got %q, %v", got, err)
		}
		if calls.Load() != 2 {
			t.Errorf("calls = %d", calls.Load())
		}
	})

	t.Run("client error not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":400,"message":"bad request"}}`))
		}))
		defer srv.Close()

		g, _ := NewGemini(testOpts(srv.URL)...)
		_, err := g.Describe(context.Background(), sceneReq)
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != 400 || apiErr.Message != "bad request" {
			t.Fatalf("err = %v", err)
		}
		if calls.Load() != 1 {
			t.Errorf("calls = %d", calls.Load())
		}
	})

	t.Run("empty request skips the network", func(t *testing.T) {
		g, _ := NewGemini(testOpts("http://127.0.0.1:1")...)
		got, err := g.Describe(context.Background(), Request{})
		if err != nil || got != "" {
			t.Fatalf("got %q, %v", got, err)
		}
	})

	t.Run("requires key", func(t *testing.T) {
		if _, err := NewGemini(); !errors.Is(err, ErrNoAPIKey) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestVertex(t *testing.T) {
	var calls, status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.Contains(r.URL.Path, "projects/demo/locations/us-central1/publishers/google/models/gemini-2.0-flash:generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		if code := int(status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			w.Write([]byte(`{"error":{"code":403,"message":"permission denied"}}`))
			return
		}
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"'Caution. Person ahead.'"}]}}]}`))
	}))
	defer srv.Close()

	v, err := NewVertex(context.Background(),
		WithBaseURL(srv.URL+"/"),
		WithAnonymous(),
		WithProject("demo", "us-central1"),
		WithRetry(2, time.Millisecond),
		WithLogger(log.Discard()),
	)
	if err != nil {
		t.Fatal(err)
	}

	got, err := v.Describe(context.Background(), sceneReq)
	if err != nil {
		t.Fatal(err)
	}
	if got != "Caution. Person ahead." {
		t.Errorf("got %q", got)
	}

	status.Store(http.StatusForbidden)
	calls.Store(0)
	if _, err := v.Describe(context.Background(), sceneReq); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("4xx retried: calls = %d", calls.Load())
	}
}

func TestVertexRequiresProject(t *testing.T) {
	_, err := NewVertex(context.Background(), WithAnonymous(), WithLogger(log.Discard()))
	if !errors.Is(err, ErrNoProject) {
		t.Fatalf("err = %v", err)
	}
}

func TestOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "llama-3.1-8b-instant" {
			t.Errorf("model = %v", body["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"llama-3.1-8b-instant",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"\"Bench on your left.\""}}]}`))
	}))
	defer srv.Close()

	g, err := NewOpenAI(testOpts(srv.URL)...)
	if err != nil {
		t.Fatal(err)
	}
	got, err := g.Describe(context.Background(), sceneReq)
	if err != nil {
		t.Fatal(err)
	}
	if got != "Bench on your left." {
		t.Errorf("got %q", got)
	}
}

func TestChain(t *testing.T) {
	failing := NewErrorMock(errors.New("quota"))
	backup := NewStaticMock("Path clear.")
	chain, err := NewChain(log.Discard(), failing, backup)
	if err != nil {
		t.Fatal(err)
	}
	if chain.Name() != "chain(mock,mock)" {
		t.Errorf("name = %s", chain.Name())
	}

	got, err := chain.Describe(context.Background(), sceneReq)
	if err != nil || got != "Path clear." {
		t.Fatalf("got %q, %v", got, err)
	}
	if failing.CallCount() != 1 || backup.CallCount() != 1 {
		t.Errorf("calls = %d/%d", failing.CallCount(), backup.CallCount())
	}

	allBad, _ := NewChain(log.Discard(), NewErrorMock(errors.New("a")), NewErrorMock(errors.New("b")))
	_, err = allBad.Describe(context.Background(), sceneReq)
	var chainErr *ChainError
	if !errors.As(err, &chainErr) || len(chainErr.Errors) != 2 {
		t.Fatalf("err = %v", err)
	}

	if _, err := NewChain(nil); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("empty chain err = %v", err)
	}
}
