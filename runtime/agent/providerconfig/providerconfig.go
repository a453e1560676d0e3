// Package providerconfig performs best-effort shape validation of an
// AgentBrief's opaque providerConfig blob at spawn time, so a malformed
// brief fails fast with a logic-class error before a sandbox process is
// ever started. The control plane never interprets providerConfig beyond
// this check; the sandbox is the only thing that actually calls the
// provider.
package providerconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidProviderConfig is the sentinel every validation failure wraps.
// It is a logic-class error: the caller that initiated spawn gets it back
// as-is, never a reason to retry or quarantine.
var ErrInvalidProviderConfig = errors.New("providerconfig: invalid provider config")

// bedrockModelID matches a region-prefixed ARN-like or bare Bedrock model
// id, e.g. "anthropic.claude-3-5-sonnet-20241022-v2:0" or
// "arn:aws:bedrock:us-east-1::inference-profile/us.anthropic.claude-3-opus".
var bedrockModelID = regexp.MustCompile(`^(arn:aws[a-z-]*:bedrock:[a-z0-9-]*:[0-9]*:[a-z-]+/)?[a-z0-9.-]+\.[a-zA-Z0-9.\-:/]+$`)

type envelope struct {
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Raw      json.RawMessage `json:"-"`
}

// Validate checks raw, the opaque providerConfig blob, against the shape
// rules for its declared provider. Unknown providers pass through
// unvalidated: the control plane must not need a release to support a
// provider the sandbox already understands.
func Validate(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidProviderConfig, err)
	}

	switch env.Provider {
	case "anthropic":
		return validateAnthropic(env.Model)
	case "bedrock":
		return validateBedrock(env.Model)
	case "openai":
		return validateOpenAI(env.Model)
	default:
		return nil
	}
}

func validateAnthropic(model string) error {
	if model == "" {
		return fmt.Errorf("%w: anthropic provider config requires a non-empty model", ErrInvalidProviderConfig)
	}
	return nil
}

func validateBedrock(model string) error {
	if !bedrockModelID.MatchString(model) {
		return fmt.Errorf("%w: bedrock model id %q does not match the expected inference-profile/model-id shape", ErrInvalidProviderConfig, model)
	}
	return nil
}

func validateOpenAI(model string) error {
	if model == "" {
		return fmt.Errorf("%w: openai provider config requires a non-empty model", ErrInvalidProviderConfig)
	}
	return nil
}
