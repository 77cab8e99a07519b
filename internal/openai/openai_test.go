package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kno-canvas/internal/canvas"
)

func TestParseGeneration(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  canvas.Generation
	}{
		{"plain", `{"title":"T","content":"C"}`, canvas.Generation{Title: "T", Content: "C"}},
		{"fenced", "```json\n{\"title\":\"T\",\"content\":\"C\"}\n```", canvas.Generation{Title: "T", Content: "C"}},
		{"insight alias", `{"title":"Spark","insight":"I"}`, canvas.Generation{Title: "Spark", Content: "I"}},
		{"surrounded by prose", `Sure! {"title":"T","content":"C"} Hope this helps.`, canvas.Generation{Title: "T", Content: "C"}},
		{"empty fields", `{}`, canvas.Generation{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGeneration(tt.reply)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseGenerationRejectsProse(t *testing.T) {
	_, err := ParseGeneration("no json here")
	assert.ErrorIs(t, err, ErrUnparseable)
	_, err = ParseGeneration("   ")
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestParseCritique(t *testing.T) {
	structured := `{"isSafe":false,"issue":"Fallacies","fix":"Check","confidence":"80%",
		"structuredAnalysis":{"factual":{"status":"Misleading","issue":"no source"},
		"balance":{"status":"Skewed","check":"survivorship"},
		"logic":{"status":"Fallacy Detected","type":"Straw man","explanation":"x"}}}`
	c := ParseCritique(structured)
	assert.False(t, c.IsSafe)
	assert.Equal(t, "Fallacies", c.Issue)
	assert.Equal(t, "Straw man", c.StructuredAnalysis.Logic.Type)

	prose := "1. FACTUAL ACCURACY\nStatus: Verified\nNote: cited\n2. COGNITIVE BALANCE\nStatus: Skewed\nBias: confirmation\n3. LOGICAL INTEGRITY\nStatus: Sound\nType: Solid\n"
	c = ParseCritique(prose)
	assert.False(t, c.IsSafe)
	assert.Equal(t, "Potential Issues Detected", c.Issue)
	assert.Equal(t, "Low (Parsed)", c.Confidence)
	assert.Equal(t, "Verified", c.StructuredAnalysis.Factual.Status)
	assert.Equal(t, "cited", c.StructuredAnalysis.Factual.Issue)
	assert.Equal(t, "Skewed", c.StructuredAnalysis.Balance.Status)
	assert.Equal(t, "Solid", c.StructuredAnalysis.Logic.Type)
	assert.Equal(t, "See analysis", c.StructuredAnalysis.Logic.Explanation)

	c = ParseCritique("")
	assert.Equal(t, "Analysis Failed", c.Issue)
	assert.True(t, c.IsSafe)
}

// chatServer answers every chat completion with the next reply.
func chatServer(t *testing.T, status int, replies ...string) (*httptest.Server, *int) {
	t.Helper()
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)

		calls++
		if status != http.StatusOK {
			http.Error(w, "upstream down", status)
			return
		}
		reply := replies[len(replies)-1]
		if calls <= len(replies) {
			reply = replies[calls-1]
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestGeneratorGenerate(t *testing.T) {
	srv, _ := chatServer(t, http.StatusOK, "```json\n{\"title\":\"Decay\",\"content\":\"Both rot.\"}\n```")
	g := NewGenerator(NewClient("test-key", srv.URL, "test-model", time.Second), DefaultBreakerSettings(), zap.NewNop())

	gen, err := g.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, canvas.Generation{Title: "Decay", Content: "Both rot."}, gen)
}

func TestGeneratorCritique(t *testing.T) {
	srv, _ := chatServer(t, http.StatusOK, "LOGICAL INTEGRITY\nStatus: Fallacy Detected\n")
	g := NewGenerator(NewClient("test-key", srv.URL, "test-model", time.Second), DefaultBreakerSettings(), nil)

	c, err := g.Critique(context.Background(), "All swans are white.")
	require.NoError(t, err)
	assert.False(t, c.IsSafe)
	assert.Equal(t, "Fallacy Detected", c.StructuredAnalysis.Logic.Status)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	srv, calls := chatServer(t, http.StatusInternalServerError)
	settings := DefaultBreakerSettings()
	settings.Timeout = time.Hour
	g := NewGenerator(NewClient("test-key", srv.URL, "test-model", time.Second), settings, nil)

	for i := 0; i < 3; i++ {
		_, err := g.Generate(context.Background(), "p")
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrCircuitOpen))
	}
	assert.Equal(t, "open", g.State())

	_, err := g.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, *calls)
}

func TestCancelledCallsDoNotTrip(t *testing.T) {
	srv, _ := chatServer(t, http.StatusOK, `{"title":"t","content":"c"}`)
	g := NewGenerator(NewClient("test-key", srv.URL, "test-model", time.Second), DefaultBreakerSettings(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		_, err := g.Generate(ctx, "p")
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", g.State())
}

func TestOffline(t *testing.T) {
	var o Offline
	gen, err := o.Generate(context.Background(), "Role: Collider. Inputs:\nInput 1: \"Entropy\"\nInput 2: \"Markets\"\nTask: Synthesis.")
	require.NoError(t, err)
	assert.Equal(t, "Entropy × Markets", gen.Title)

	gen, err = o.Generate(context.Background(), `Role: Serendipity Engine. Concept A: "Bees - hive minds" Concept B: "Cities - dense"`)
	require.NoError(t, err)
	assert.Equal(t, "Bees × Cities", gen.Title)

	c, err := o.Critique(context.Background(), "A plain claim.")
	require.NoError(t, err)
	assert.True(t, c.IsSafe)
	assert.Equal(t, "Offline", c.Confidence)
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Rate limit reached"}}`))
	}))
	defer srv.Close()

	_, err := NewClient("k", srv.URL, "", time.Second).ChatCompletion(context.Background(), nil, true)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.Code)
	assert.Equal(t, "Rate limit reached", statusErr.Message)
}
