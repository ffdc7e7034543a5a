package factory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Path    string        `json:"path"`
	Size    int           `json:"size"`
	Timeout time.Duration `json:"timeout"`
}

func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry[*sample]()
	require.NoError(t, reg.Register("File", func(conf map[string]any) (*sample, error) {
		var s sample
		if err := Decode(conf, &s); err != nil {
			return nil, err
		}
		return &s, nil
	}))

	inst, err := reg.Create(ModuleConfig{Type: "file", Conf: map[string]any{"path": "/tmp/x", "size": "3", "timeout": "2s"}})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", inst.Path)
	assert.Equal(t, 3, inst.Size)
	assert.Equal(t, 2*time.Second, inst.Timeout)
	assert.Equal(t, []string{"file"}, reg.Names())
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry[int]()
	boom := errors.New("boom")
	require.NoError(t, reg.Register("x", func(map[string]any) (int, error) { return 0, boom }))
	assert.Error(t, reg.Register("x", func(map[string]any) (int, error) { return 1, nil }))
	assert.Error(t, reg.Register("y", nil))

	_, err := reg.Create(ModuleConfig{Type: "y"})
	assert.ErrorContains(t, err, "known: x")
	_, err = reg.Create(ModuleConfig{Type: "x"})
	assert.ErrorIs(t, err, boom)
}
