package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/derekphilipau/deep-label/internal/logger"
)

func fakeService(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)

	client := New(Config{
		Endpoint: server.URL,
		Model:    "test-model",
		APIKey:   "test-key",
		Timeout:  5 * time.Second,
	}, logger.NewNopLogger())

	return client, server
}

func okResponse(text string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
		"usageMetadata": map[string]any{
			"promptTokenCount":     120,
			"candidatesTokenCount": 40,
		},
	}
}

func TestClient_Generate(t *testing.T) {
	var gotPath string
	var gotBody apiRequest
	client, server := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(okResponse(`{"instances":[]}`))
	})
	defer server.Close()

	resp, err := client.Generate(context.Background(), Request{
		Prompt:    "detect all hounds",
		ImageJPEG: []byte("fake jpeg data"),
		Schema:    SchemaObject(map[string]any{"instances": SchemaArray(SchemaRawInstance())}, "instances"),
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if resp.Text != `{"instances":[]}` {
		t.Errorf("unexpected text: %s", resp.Text)
	}
	if resp.Usage.InputTokens != 120 || resp.Usage.OutputTokens != 40 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
	if !strings.HasSuffix(gotPath, "/v1beta/models/test-model:generateContent") {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if len(gotBody.Contents) != 1 || len(gotBody.Contents[0].Parts) != 2 {
		t.Fatalf("expected prompt + image parts, got %+v", gotBody.Contents)
	}
	if gotBody.GenerationConfig.ResponseMimeType != "application/json" {
		t.Errorf("expected JSON response mime type")
	}
}

func TestClient_Generate_RateLimited(t *testing.T) {
	client, server := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"status":"RESOURCE_EXHAUSTED"}}`))
	})
	defer server.Close()

	_, err := client.Generate(context.Background(), Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRateLimited(err) {
		t.Errorf("expected rate-limited classification, got %v", ClassOf(err))
	}
	var ce *CallError
	if !errors.As(err, &ce) || ce.Status != 429 {
		t.Errorf("expected CallError with status 429, got %v", err)
	}
}

func TestClient_Generate_ServerErrorIsTransient(t *testing.T) {
	client, server := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer server.Close()

	_, err := client.Generate(context.Background(), Request{Prompt: "hi"})
	if ClassOf(err) != ClassTransient {
		t.Errorf("expected transient classification, got %v", ClassOf(err))
	}
	if !IsRetryable(err) {
		t.Error("transient errors must be retryable")
	}
}

func TestClient_Generate_BadRequestIsFatal(t *testing.T) {
	client, server := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"invalid schema"}}`))
	})
	defer server.Close()

	_, err := client.Generate(context.Background(), Request{Prompt: "hi"})
	if ClassOf(err) != ClassFatal {
		t.Errorf("expected fatal classification, got %v", ClassOf(err))
	}
	if IsRetryable(err) {
		t.Error("fatal errors must not be retryable")
	}
}

func TestClient_Generate_EmptyCandidates(t *testing.T) {
	client, server := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	})
	defer server.Close()

	_, err := client.Generate(context.Background(), Request{Prompt: "hi"})
	if ClassOf(err) != ClassFatal {
		t.Errorf("expected fatal classification for empty candidates, got %v", ClassOf(err))
	}
}

func TestDecode_SchemaMismatchIsFatal(t *testing.T) {
	var result DetectionResult
	err := Decode(`{"instances": "not an array"}`, &result)
	if err == nil {
		t.Fatal("expected error")
	}
	if ClassOf(err) != ClassFatal {
		t.Errorf("schema mismatch must be fatal, got %v", ClassOf(err))
	}
}

func TestVerificationResult_Validate(t *testing.T) {
	ok := VerificationResult{Wrong: []int{0, 2}, Corrections: []BoxCorrection{{Index: 1}}}
	if err := ok.Validate(3); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := VerificationResult{Wrong: []int{5}}
	if err := bad.Validate(3); err == nil {
		t.Error("expected out-of-range index to fail validation")
	}
}
