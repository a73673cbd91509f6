package gemini

import (
	"context"
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeGenerator struct {
	prompt string
	resp   *genai.GenerateContentResponse
	err    error
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	if len(parts) > 0 {
		if txt, ok := parts[0].(genai.Text); ok {
			f.prompt = string(txt)
		}
	}
	return f.resp, f.err
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{}
	for _, p := range parts {
		content.Parts = append(content.Parts, genai.Text(p))
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: content}}}
}

func TestTranslate(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("Hallo ", "Welt")}
	p := NewWithGenerator(gen, DefaultConfig())

	out, err := p.Translate(context.Background(), "Hello world", "en", "de")
	require.NoError(t, err)
	assert.Equal(t, "Hallo Welt", out)
	assert.Contains(t, gen.prompt, "from English (en) to German (de)")
}

func TestTranslateEmpty(t *testing.T) {
	p := NewWithGenerator(&fakeGenerator{resp: &genai.GenerateContentResponse{}}, DefaultConfig())
	_, err := p.Translate(context.Background(), "x", "en", "de")
	perr, ok := providers.AsError(err)
	require.True(t, ok)
	assert.Equal(t, providers.KindInternal, perr.Kind)

	blocked := NewWithGenerator(&fakeGenerator{resp: textResponse()}, DefaultConfig())
	_, err = blocked.Translate(context.Background(), "x", "en", "de")
	perr, ok = providers.AsError(err)
	require.True(t, ok)
	assert.Equal(t, providers.KindBadRequest, perr.Kind)
}

func TestClassifyError(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		err  error
		kind providers.Kind
	}{
		{&googleapi.Error{Code: 429, Message: "rate"}, providers.KindRateLimit},
		{&googleapi.Error{Code: 403, Message: "denied"}, providers.KindAuth},
		{status.Error(codes.ResourceExhausted, "Quota exceeded for aiplatform"), providers.KindQuota},
		{status.Error(codes.ResourceExhausted, "too many requests"), providers.KindRateLimit},
		{status.Error(codes.Unauthenticated, "no creds"), providers.KindAuth},
		{status.Error(codes.InvalidArgument, "bad"), providers.KindBadRequest},
		{status.Error(codes.NotFound, "model"), providers.KindNotProvisioned},
		{status.Error(codes.Unavailable, "down"), providers.KindUnavailable},
		{status.Error(codes.Internal, "oops"), providers.KindInternal},
	}

	for _, tc := range cases {
		perr, ok := providers.AsError(classifyError(ctx, tc.err))
		require.True(t, ok)
		assert.Equal(t, tc.kind, perr.Kind, tc.err.Error())
	}
}

func TestNewRequiresProject(t *testing.T) {
	_, err := New(context.Background(), Config{Region: "us-central1"})
	assert.Error(t, err)
}
