package playback

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandDevice_write_and_stop(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	d := &CommandDevice{Argv: []string{"sh", "-c", "cat >/dev/null"}}

	sink, err := d.Open(context.Background())
	require.NoError(t, err)

	n, err := sink.Write([]byte("audio"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.NoError(t, sink.Stop())
	assert.NoError(t, sink.Stop())
}

func TestCommandDevice_errors(t *testing.T) {
	_, err := (&CommandDevice{}).Open(context.Background())
	assert.Error(t, err)

	_, err = (&CommandDevice{Argv: []string{"/nonexistent/radio-player"}}).Open(context.Background())
	assert.Error(t, err)
}
