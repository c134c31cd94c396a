package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorMissing(t *testing.T) {
	m := Message{"foo": "bar"}
	_, err := m.Descriptor()
	assert.Error(t, err)
}

func TestInterfaceMethod(t *testing.T) {
	m := Message{
		"descriptor": map[string]any{
			"interface":        "Records",
			"method":           "Write",
			"messageTimestamp": "2023-01-01T00:00:00Z",
		},
	}
	iface, method, err := m.InterfaceMethod()
	require.NoError(t, err)
	assert.Equal(t, "Records", iface)
	assert.Equal(t, "Write", method)

	ts, err := m.MessageTimestamp()
	require.NoError(t, err)
	assert.Equal(t, "2023-01-01T00:00:00Z", ts)
}

func TestCloneIsIndependent(t *testing.T) {
	m := Message{"a": 1}
	c := m.Clone()
	c["a"] = 2
	assert.Equal(t, 1, m["a"])
	assert.Equal(t, 2, c["a"])
}
