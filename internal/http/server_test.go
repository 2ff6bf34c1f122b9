package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"contentforge/internal/analytics"
	"contentforge/internal/config"
	"contentforge/internal/crypto"
	"contentforge/internal/domain"
	"contentforge/internal/orchestrator"
	"contentforge/internal/provider"
	"contentforge/internal/selector"
	"contentforge/internal/storage"
	"contentforge/internal/telemetry"
)

type stubAdapter struct {
	provider domain.Provider
	result   *domain.GenerationResult
	chunks   []domain.StreamChunk
}

func (a *stubAdapter) Provider() domain.Provider { return a.provider }

func (a *stubAdapter) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.GenerationResult, error) {
	return a.result, nil
}

func (a *stubAdapter) GenerateStream(ctx context.Context, req *domain.GenerationRequest) (<-chan domain.StreamChunk, error) {
	ch := make(chan domain.StreamChunk, len(a.chunks))
	for _, c := range a.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

type testEnv struct {
	server *httptest.Server
	store  *storage.MemoryStore
	enc    *crypto.EncryptionService
}

func newTestEnv(t *testing.T, adapters map[domain.Provider]*stubAdapter) *testEnv {
	t.Helper()

	enc, err := crypto.NewEncryptionService("test-secret")
	if err != nil {
		t.Fatal(err)
	}

	store := storage.NewMemoryStore()
	factory := func(cfg *domain.ProviderConfig) (provider.Adapter, error) {
		return adapters[cfg.Provider], nil
	}

	agg := analytics.New(store)
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	service := orchestrator.New(store, selector.New(store, enc), agg, metrics, enc, factory)

	srv := NewServer(config.Default(), service, store, agg, enc)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, store: store, enc: enc}
}

func (e *testEnv) seedCredential(t *testing.T, p domain.Provider, model string) {
	t.Helper()
	ciphertext, salt, err := e.enc.Encrypt("sk-" + string(p))
	if err != nil {
		t.Fatal(err)
	}
	err = e.store.UpsertCredential(context.Background(), &domain.ProviderCredential{
		Provider: p, EncryptedKey: ciphertext, Salt: salt,
		DefaultModel: model, Active: true,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) Response {
	t.Helper()
	defer resp.Body.Close()
	var env Response
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	return env
}

func TestGenerateEndpoint(t *testing.T) {
	env := newTestEnv(t, map[domain.Provider]*stubAdapter{
		domain.ProviderAnthropic: {
			provider: domain.ProviderAnthropic,
			result: &domain.GenerationResult{
				Provider: domain.ProviderAnthropic,
				Model:    "claude-sonnet-4",
				Outputs:  []domain.GenerationOutput{{Content: "the draft", TokensIn: 5, TokensOut: 3, Cost: 0.01}},
			},
		},
	})
	env.seedCredential(t, domain.ProviderAnthropic, "claude-sonnet-4")

	resp := postJSON(t, env.server.URL+"/v1/generate", GenerateRequest{
		Task: "writing", Prompt: "write the post", Vertical: "fintech",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	envlp := decodeEnvelope(t, resp)
	if !envlp.Success {
		t.Fatalf("expected success, got %+v", envlp.Error)
	}
}

func TestGenerateValidationErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("unknown task is 400 with suggestion", func(t *testing.T) {
		resp := postJSON(t, env.server.URL+"/v1/generate", GenerateRequest{Task: "writng", Prompt: "x"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		envlp := decodeEnvelope(t, resp)
		if envlp.Error == nil || !strings.Contains(envlp.Error.Message, "writing") {
			t.Errorf("error should suggest the closest task: %+v", envlp.Error)
		}
	})

	t.Run("no provider is 503", func(t *testing.T) {
		resp := postJSON(t, env.server.URL+"/v1/generate", GenerateRequest{Task: "writing", Prompt: "x"})
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	})
}

func TestGenerateStreamEndpoint(t *testing.T) {
	env := newTestEnv(t, map[domain.Provider]*stubAdapter{
		domain.ProviderAnthropic: {
			provider: domain.ProviderAnthropic,
			chunks:   []domain.StreamChunk{{Delta: "Hel"}, {Delta: "lo"}, {Done: true}},
		},
	})
	env.seedCredential(t, domain.ProviderAnthropic, "claude-sonnet-4")

	resp := postJSON(t, env.server.URL+"/v1/generate", GenerateRequest{
		Task: "writing", Prompt: "write", Stream: true,
	})
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	body := buf.String()

	if !strings.Contains(body, `data: {"delta":"Hel"}`) {
		t.Errorf("missing delta frame:\n%s", body)
	}
	if !strings.Contains(body, "data: [DONE]\n\n") {
		t.Errorf("missing DONE sentinel:\n%s", body)
	}
}

func TestTreeEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	root := &domain.GenerationNode{ID: "root-1", Type: domain.TaskIdea, Content: "idea", Visible: true, Status: domain.NodeStatusCompleted}
	childA := &domain.GenerationNode{ID: "child-a", Type: domain.TaskTitle, Content: "A", ParentID: &root.ID, Visible: true, Status: domain.NodeStatusCompleted}
	childB := &domain.GenerationNode{ID: "child-b", Type: domain.TaskTitle, Content: "B", ParentID: &root.ID, Visible: true, Status: domain.NodeStatusCompleted}
	for _, n := range []*domain.GenerationNode{root, childA, childB} {
		if err := env.store.CreateNode(ctx, n); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("get node includes alternatives", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/v1/nodes/child-a")
		if err != nil {
			t.Fatal(err)
		}
		envlp := decodeEnvelope(t, resp)
		if !envlp.Success {
			t.Fatalf("error: %+v", envlp.Error)
		}
	})

	t.Run("missing node is 404", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/v1/nodes/nope")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("select requires root_id", func(t *testing.T) {
		resp := postJSON(t, env.server.URL+"/v1/nodes/child-a/select", map[string]string{})
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("select then verify single winner", func(t *testing.T) {
		resp := postJSON(t, env.server.URL+"/v1/nodes/child-a/select", SelectRequest{RootID: "root-1"})
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}

		resp = postJSON(t, env.server.URL+"/v1/nodes/child-b/select", SelectRequest{RootID: "root-1"})
		resp.Body.Close()

		nodes, _ := env.store.GetTree(ctx, "root-1")
		selected := 0
		for _, n := range nodes {
			if n.Selected {
				selected++
				if n.ID != "child-b" {
					t.Errorf("winner should be child-b, got %s", n.ID)
				}
			}
		}
		if selected != 1 {
			t.Errorf("selected = %d, want 1", selected)
		}
	})

	t.Run("delete is soft", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodDelete, env.server.URL+"/v1/nodes/child-a", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}

		// still addressable directly
		if _, err := env.store.GetNode(ctx, "child-a"); err != nil {
			t.Errorf("soft-deleted node should remain addressable: %v", err)
		}
	})
}

func TestImagePromptReplacement(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	node := &domain.GenerationNode{ID: "n1", Type: domain.TaskImagePrompt, Content: "x", Visible: true, Status: domain.NodeStatusCompleted}
	if err := env.store.CreateNode(ctx, node); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodPut, env.server.URL+"/v1/nodes/n1/image-prompts",
		bytes.NewReader(mustJSON(t, ImagePromptsRequest{Prompts: []ImagePromptInput{
			{OriginalText: "a lighthouse", EditedText: "a lighthouse at dusk"},
			{OriginalText: "waves"},
		}})))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	detail, err := env.store.GetNode(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.ImagePrompts) != 2 {
		t.Fatalf("prompts = %d", len(detail.ImagePrompts))
	}
	if detail.ImagePrompts[0].FinalText != "a lighthouse at dusk" {
		t.Errorf("edited text should become final: %q", detail.ImagePrompts[0].FinalText)
	}
	if detail.ImagePrompts[1].FinalText != "waves" {
		t.Errorf("unedited prompt keeps original as final: %q", detail.ImagePrompts[1].FinalText)
	}
}

func TestProviderManagement(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("upsert stores encrypted, returns sanitized view", func(t *testing.T) {
		key := "sk-live-secret"
		req, _ := http.NewRequest(http.MethodPut, env.server.URL+"/v1/providers/openai",
			bytes.NewReader(mustJSON(t, ProviderUpsertRequest{APIKey: &key, DefaultModel: "gpt-4o", MonthlyBudget: 50})))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}

		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d: %s", resp.StatusCode, buf.String())
		}
		if strings.Contains(buf.String(), key) {
			t.Fatal("plaintext key must never appear in a response")
		}

		cred, err := env.store.GetCredential(context.Background(), domain.ProviderOpenAI)
		if err != nil {
			t.Fatal(err)
		}
		if cred.EncryptedKey == "" || cred.EncryptedKey == key {
			t.Error("key should be stored encrypted")
		}
		if plain, err := env.enc.Decrypt(cred.EncryptedKey, cred.Salt); err != nil || plain != key {
			t.Errorf("stored key should round-trip: %v", err)
		}
	})

	t.Run("list returns views without ciphertext", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/v1/providers")
		if err != nil {
			t.Fatal(err)
		}
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		resp.Body.Close()

		if strings.Contains(buf.String(), "encrypted") || strings.Contains(buf.String(), "salt") {
			t.Errorf("credential views must not expose key material: %s", buf.String())
		}
		if !strings.Contains(buf.String(), `"has_api_key":true`) {
			t.Errorf("view should report key presence: %s", buf.String())
		}
	})

	t.Run("unknown provider is 400", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPut, env.server.URL+"/v1/providers/nonsense",
			bytes.NewReader(mustJSON(t, ProviderUpsertRequest{DefaultModel: "m"})))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})
}

func TestAnalyticsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.server.URL + "/v1/analytics/usage?timeframe=week")
	if err != nil {
		t.Fatal(err)
	}
	envlp := decodeEnvelope(t, resp)
	if !envlp.Success {
		t.Fatalf("error: %+v", envlp.Error)
	}

	resp, err = http.Get(env.server.URL + "/v1/analytics/usage?timeframe=century")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid timeframe should be 400, got %d", resp.StatusCode)
	}
}

func TestStyleGuideCRUD(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := postJSON(t, env.server.URL+"/v1/style-guides", StyleGuideRequest{
		Name: "Concise", Content: "be concise", Vertical: "fintech",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	guides, err := env.store.ListStyleGuides(context.Background(), "fintech")
	if err != nil {
		t.Fatal(err)
	}
	if len(guides) != 1 || guides[0].Name != "Concise" {
		t.Fatalf("guides = %+v", guides)
	}

	t.Run("missing fields rejected", func(t *testing.T) {
		resp := postJSON(t, env.server.URL+"/v1/style-guides", StyleGuideRequest{Name: "x"})
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})
}

func TestReferenceDataEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("templates", func(t *testing.T) {
		resp := postJSON(t, env.server.URL+"/v1/templates", TemplateRequest{
			Name: "Idea brief", TaskType: "idea", Template: "Generate ideas about {topic}",
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d", resp.StatusCode)
		}

		templates, err := env.store.ListTemplates(context.Background(), domain.TaskIdea)
		if err != nil {
			t.Fatal(err)
		}
		if len(templates) != 1 || templates[0].Name != "Idea brief" {
			t.Fatalf("templates = %+v", templates)
		}
	})

	t.Run("characters", func(t *testing.T) {
		resp := postJSON(t, env.server.URL+"/v1/characters", CharacterRequest{
			Name: "Ada", Description: "a pragmatic engineer",
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d", resp.StatusCode)
		}

		resp = postJSON(t, env.server.URL+"/v1/characters", CharacterRequest{})
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("nameless character should be 400, got %d", resp.StatusCode)
		}
	})

	t.Run("reference images filtered by vertical", func(t *testing.T) {
		resp := postJSON(t, env.server.URL+"/v1/reference-images", ReferenceImageRequest{
			Name: "hero shot", URL: "https://img.example/hero.png", Vertical: "fintech",
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d", resp.StatusCode)
		}

		images, err := env.store.ListReferenceImages(context.Background(), "travel")
		if err != nil {
			t.Fatal(err)
		}
		if len(images) != 0 {
			t.Errorf("vertical filter should exclude fintech image: %+v", images)
		}
	})
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := http.Get(env.server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
