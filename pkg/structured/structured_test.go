package structured_test

import (
	"testing"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/structured"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply struct {
	Response string          `mapstructure:"response"`
	Question string          `mapstructure:"question"`
	Entities []domain.Entity `mapstructure:"entities"`
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"Plain", `{"response": "ok", "question": "why?", "entities": [{"name": "X", "tags": ["a"]}]}`},
		{"Fenced", "Here you go:\n```json\n{\"response\": \"ok\", \"question\": \"why?\", \"entities\": [{\"name\": \"X\", \"tags\": [\"a\"]}]}\n```"},
		{"Surrounded", `Sure! {"Response": "ok", "QUESTION": "why?", "entities": [{"name": "X", "tags": ["a"]}]} hope it helps`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r reply
			require.NoError(t, structured.Decode(tt.text, &r))
			assert.Equal(t, "ok", r.Response)
			assert.Equal(t, "why?", r.Question)
			require.Len(t, r.Entities, 1)
			assert.Equal(t, "X", r.Entities[0].Name)
			assert.Equal(t, []string{"a"}, r.Entities[0].Tags)
		})
	}
}

func TestExtract_BracesInStrings(t *testing.T) {
	raw, err := structured.Extract(`prefix {"a": "}{", "b": {"c": 1}} suffix`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": "}{", "b": {"c": 1}}`, raw)
}

func TestDecode_NoObject(t *testing.T) {
	var r reply
	assert.ErrorIs(t, structured.Decode("just prose", &r), structured.ErrNoObject)
	assert.ErrorIs(t, structured.Decode(`{"unterminated": `, &r), structured.ErrNoObject)
}

func TestDecodeValue_Messages(t *testing.T) {
	in := []any{map[string]any{"role": "human", "content": "hi"}}
	var msgs []domain.Message
	require.NoError(t, structured.DecodeValue(in, &msgs))
	assert.Equal(t, []domain.Message{{Role: domain.RoleHuman, Content: "hi"}}, msgs)
}
