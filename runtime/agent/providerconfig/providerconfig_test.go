package providerconfig

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateEmptyPassesThrough(t *testing.T) {
	require.NoError(t, Validate(nil))
}

func TestValidateUnknownProviderPassesThrough(t *testing.T) {
	require.NoError(t, Validate([]byte(`{"provider":"future-provider","model":"whatever"}`)))
}

func TestValidateAnthropicRequiresModel(t *testing.T) {
	require.NoError(t, Validate([]byte(`{"provider":"anthropic","model":"claude-sonnet-4-5"}`)))

	err := Validate([]byte(`{"provider":"anthropic","model":""}`))
	require.True(t, errors.Is(err, ErrInvalidProviderConfig))
}

func TestValidateBedrockModelIDShape(t *testing.T) {
	require.NoError(t, Validate([]byte(`{"provider":"bedrock","model":"anthropic.claude-3-5-sonnet-20241022-v2:0"}`)))

	err := Validate([]byte(`{"provider":"bedrock","model":"not a model id"}`))
	require.True(t, errors.Is(err, ErrInvalidProviderConfig))
}

func TestValidateOpenAIRequiresModel(t *testing.T) {
	require.NoError(t, Validate([]byte(`{"provider":"openai","model":"gpt-4o"}`)))

	err := Validate([]byte(`{"provider":"openai","model":""}`))
	require.True(t, errors.Is(err, ErrInvalidProviderConfig))
}

func TestValidateMalformedJSON(t *testing.T) {
	err := Validate([]byte(`not json`))
	require.True(t, errors.Is(err, ErrInvalidProviderConfig))
}
