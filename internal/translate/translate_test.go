package translate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go/v3/option"
	"golang.org/x/text/language"
)

type stubProvider struct {
	out string
	err error
	got language.Tag
}

func (s *stubProvider) Translate(_ context.Context, _ string, target language.Tag) (string, error) {
	s.got = target
	return s.out, s.err
}

func TestParseTarget(t *testing.T) {
	for _, ok := range []string{"es", "pt-BR", "zh-Hant", " fr "} {
		if _, err := ParseTarget(ok); err != nil {
			t.Fatalf("ParseTarget(%q) unexpected error: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "   ", "not a tag!", "und"} {
		if _, err := ParseTarget(bad); !errors.Is(err, ErrInvalidLanguage) {
			t.Fatalf("ParseTarget(%q) = %v; want ErrInvalidLanguage", bad, err)
		}
	}
}

func TestLabels(t *testing.T) {
	if got := Label(language.Spanish); got != "Spanish" {
		t.Fatalf("Label(es) = %q", got)
	}
	if got := DetectSource("The quick brown fox jumps over the lazy dog and keeps running through the field."); got != "English" {
		t.Fatalf("DetectSource(english) = %q", got)
	}
	if got := DetectSource("12345 !!!"); got != UnknownLabel {
		t.Fatalf("DetectSource(digits) = %q; want %q", got, UnknownLabel)
	}
}

func TestTranslator_Translate_Success(t *testing.T) {
	p := &stubProvider{out: "Hola, ¿cómo estás?"}
	tr := New(p)

	res, err := tr.Translate(context.Background(), "Hello, how are you doing today my friend?", "es")
	if err != nil {
		t.Fatalf("Translate error: %v", err)
	}
	if res.TranslatedText != "Hola, ¿cómo estás?" || res.TargetLanguageLabel != "Spanish" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.OriginalText != "Hello, how are you doing today my friend?" {
		t.Fatalf("original text not echoed: %+v", res)
	}
	if p.got != language.Spanish {
		t.Fatalf("provider got tag %v", p.got)
	}
}

func TestTranslator_ErrorCategories(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"unavailable passthrough", ErrUnavailable, ErrUnavailable},
		{"unsupported passthrough", ErrUnsupportedLanguage, ErrUnsupportedLanguage},
		{"timeout", context.DeadlineExceeded, ErrUnavailable},
		{"anything else", errors.New("boom"), ErrFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(&stubProvider{err: tc.err}).Translate(context.Background(), "hi", "de")
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v; want %v", err, tc.want)
			}
		})
	}
}

func TestTranslator_NilProviderIsDisabled(t *testing.T) {
	if _, err := New(nil).Translate(context.Background(), "hi", "de"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestTranslator_InvalidTargetSkipsProvider(t *testing.T) {
	p := &stubProvider{out: "x"}
	if _, err := New(p).Translate(context.Background(), "hi", "??"); !errors.Is(err, ErrInvalidLanguage) {
		t.Fatalf("expected ErrInvalidLanguage, got %v", err)
	}
	if p.got != (language.Tag{}) {
		t.Fatalf("provider should not be called")
	}
}

// fakeOpenAI serves /chat/completions with a fixed status and content.
func fakeOpenAI(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"model":"test-model"`) {
			t.Errorf("unexpected request body: %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"x","code":"x"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvider(srv *httptest.Server) *OpenAIProvider {
	return NewOpenAI(OpenAIConfig{APIKey: "sk-test", Model: "test-model", Timeout: 2 * time.Second},
		option.WithBaseURL(srv.URL+"/"))
}

func TestOpenAIProvider_Success(t *testing.T) {
	p := newTestProvider(fakeOpenAI(t, http.StatusOK, "  Bonjour  "))
	out, err := p.Translate(context.Background(), "Hello", language.French)
	if err != nil || out != "Bonjour" {
		t.Fatalf("Translate = %q, %v", out, err)
	}
}

func TestOpenAIProvider_UnsupportedMarker(t *testing.T) {
	p := newTestProvider(fakeOpenAI(t, http.StatusOK, unsupportedMarker))
	if _, err := p.Translate(context.Background(), "Hello", language.MustParse("tlh")); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
}

func TestOpenAIProvider_StatusMapping(t *testing.T) {
	cases := map[int]error{
		http.StatusUnauthorized:       ErrUnavailable,
		http.StatusTooManyRequests:    ErrUnavailable,
		http.StatusServiceUnavailable: ErrUnavailable,
		http.StatusBadRequest:         ErrFailed,
		http.StatusNotFound:           ErrFailed,
	}
	for status, want := range cases {
		p := newTestProvider(fakeOpenAI(t, status, ""))
		if _, err := p.Translate(context.Background(), "Hello", language.German); !errors.Is(err, want) {
			t.Fatalf("status %d: got %v; want %v", status, err, want)
		}
	}
}

func TestOpenAIProvider_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	p := NewOpenAI(OpenAIConfig{APIKey: "sk-test", Model: "test-model", Timeout: time.Second}, option.WithBaseURL(url+"/"))
	if _, err := p.Translate(context.Background(), "Hello", language.German); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
