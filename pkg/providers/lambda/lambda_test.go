package lambda

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasdk "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/nerdneilsfield/go-translator-pipeline/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInvoker struct {
	input  *lambdasdk.InvokeInput
	output *lambdasdk.InvokeOutput
	err    error
}

func (f *fakeInvoker) Invoke(ctx context.Context, params *lambdasdk.InvokeInput, optFns ...func(*lambdasdk.Options)) (*lambdasdk.InvokeOutput, error) {
	f.input = params
	return f.output, f.err
}

func payload(t *testing.T, resp TranslatorResponse) []byte {
	t.Helper()
	b, err := json.Marshal(resp)
	require.NoError(t, err)
	return b
}

func TestTranslate(t *testing.T) {
	invoker := &fakeInvoker{output: &lambdasdk.InvokeOutput{
		Payload: payload(t, TranslatorResponse{Translations: [][]string{{"Bonjour"}}}),
	}}
	p := NewWithClient(invoker, Config{FunctionName: "translator"})

	out, err := p.Translate(context.Background(), "Hello", "EN", "fr")
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", out)

	require.NotNil(t, invoker.input)
	assert.Equal(t, "translator", aws.ToString(invoker.input.FunctionName))

	var req TranslatorRequest
	require.NoError(t, json.Unmarshal(invoker.input.Payload, &req))
	assert.Equal(t, [][]string{{"Hello"}}, req.Chunks)
	assert.Equal(t, "en", req.SourceLang)
	assert.Equal(t, "fr", req.TargetLang)
}

func TestTranslateReportedError(t *testing.T) {
	invoker := &fakeInvoker{output: &lambdasdk.InvokeOutput{
		Payload: payload(t, TranslatorResponse{Error: "no model for xx", ErrorKind: string(providers.KindUnsupportedLanguage)}),
	}}
	_, err := NewWithClient(invoker, Config{FunctionName: "f"}).Translate(context.Background(), "x", "en", "xx")

	perr, ok := providers.AsError(err)
	require.True(t, ok)
	assert.Equal(t, providers.KindUnsupportedLanguage, perr.Kind)
}

func TestTranslateFunctionError(t *testing.T) {
	invoker := &fakeInvoker{output: &lambdasdk.InvokeOutput{FunctionError: aws.String("Unhandled")}}
	_, err := NewWithClient(invoker, Config{FunctionName: "f"}).Translate(context.Background(), "x", "en", "de")

	perr, ok := providers.AsError(err)
	require.True(t, ok)
	assert.Equal(t, providers.KindInternal, perr.Kind)
}

func TestClassifyError(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		err  error
		kind providers.Kind
	}{
		{&types.TooManyRequestsException{Message: aws.String("slow down")}, providers.KindRateLimit},
		{&types.ServiceException{Message: aws.String("boom")}, providers.KindUnavailable},
		{&types.ResourceNotFoundException{Message: aws.String("missing")}, providers.KindAuth},
		{&types.RequestTooLargeException{Message: aws.String("big")}, providers.KindBadRequest},
		{errors.New("dial tcp: connection refused"), providers.KindUnavailable},
	}

	for _, tc := range cases {
		perr, ok := providers.AsError(classifyError(ctx, tc.err))
		require.True(t, ok)
		assert.Equal(t, tc.kind, perr.Kind, tc.err.Error())
	}
}

func TestNewRequiresFunctionName(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}
