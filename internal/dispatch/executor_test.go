package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePayloadShallowMerge(t *testing.T) {
	defaults := json.RawMessage(`{"currency":"USD","amount":100,"memo":"rent"}`)
	payload := json.RawMessage(`{"amount":250,"account":"4010"}`)

	out := MergePayload(defaults, payload)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "USD", got["currency"])
	assert.Equal(t, float64(250), got["amount"], "排程负载覆盖模板默认值")
	assert.Equal(t, "rent", got["memo"])
	assert.Equal(t, "4010", got["account"])
}

func TestMergePayloadEmptyPayloadUsesDefaults(t *testing.T) {
	defaults := json.RawMessage(`{"currency":"USD"}`)
	assert.Equal(t, defaults, MergePayload(defaults, nil))
}

func TestMergePayloadNonObjectPassthrough(t *testing.T) {
	// 非对象负载不参与合并，原样透传
	payload := json.RawMessage(`[1,2,3]`)
	assert.Equal(t, payload, MergePayload(json.RawMessage(`{"a":1}`), payload))

	// 模板默认值不是对象时同样透传负载
	obj := json.RawMessage(`{"a":1}`)
	assert.Equal(t, obj, MergePayload(json.RawMessage(`"scalar"`), obj))
}

func TestMergePayloadNoDefaults(t *testing.T) {
	payload := json.RawMessage(`{"a":1}`)
	assert.Equal(t, payload, MergePayload(nil, payload))
}
