package tokenizers

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectConfig(t *testing.T) {
	info, err := InspectConfig([]byte(mockTokenizerJSON))
	require.NoError(t, err)
	assert.Equal(t, ConfigInfo{
		Version:      "1.0",
		ModelType:    "WordLevel",
		PreTokenizer: "Whitespace",
	}, info)

	for name, data := range map[string]string{
		"not json":      "tokenizer",
		"no model":      `{"version": "1.0"}`,
		"null model":    `{"model": null}`,
		"json array":    `[1, 2]`,
		"empty payload": ``,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := InspectConfig([]byte(data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			assert.True(t, errors.Is(ValidateConfig([]byte(data)), ErrInvalidConfig))
		})
	}
}
