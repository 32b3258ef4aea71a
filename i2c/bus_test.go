package i2c

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestGenericBus(t *testing.T) {
	playback := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x50, W: []byte{0x00, 0x00}},
			{Addr: 0x50, R: []byte{'R', '-', 'P', 'i'}},
			{Addr: 0x50, W: []byte{0x00, 0x04}, R: []byte{0x01, 0x00}},
		},
		DontPanic: true,
	}
	b := Wrap(playback)
	ctx := context.Background()

	require.NoError(t, b.WriteToAddr(ctx, 0x50, []byte{0x00, 0x00}))
	buf := make([]byte, 4)
	require.NoError(t, b.ReadFromAddr(ctx, 0x50, buf))
	assert.Equal(t, "R-Pi", string(buf))

	r := make([]byte, 2)
	require.NoError(t, b.WriteRead(ctx, 0x50, []byte{0x00, 0x04}, r))
	assert.Equal(t, []byte{0x01, 0x00}, r)

	require.NoError(t, b.Release(ctx))
	require.NoError(t, b.Close())
	require.NoError(t, playback.Close())
}

func TestGenericBusError(t *testing.T) {
	playback := &i2ctest.Playback{DontPanic: true}
	err := Wrap(playback).WriteToAddr(context.Background(), 0x20, []byte{0x01})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "could not write to i2c bus 20")
}
