package console

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputRedirect(t *testing.T) {
	var out, errOut bytes.Buffer
	SetOutput(&out, &errOut)
	defer SetOutput(&bytes.Buffer{}, &bytes.Buffer{})

	Infof("rate %d", 48000)
	PInfof(PictoPin, "pin %s", "dac")
	Errorf("bad %s", "thing")

	assert.Contains(t, out.String(), "rate 48000")
	assert.Contains(t, out.String(), "pin dac")
	assert.Contains(t, errOut.String(), "bad thing")
}

func TestExit(t *testing.T) {
	err := Exit(3, "could not open %s", "spi")
	assert.Equal(t, 3, err.ExitCode())
	assert.Contains(t, err.Error(), "could not open spi")
}
