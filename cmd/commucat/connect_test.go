package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commucat/client-go/engine"
)

func TestParseChannel(t *testing.T) {
	channel, err := parseChannel("42")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), channel)

	_, err = parseChannel("lobby")
	assert.Error(t, err)
}

func TestDispatchUsageErrors(t *testing.T) {
	eng := engine.New(8, 8)
	defer eng.Close()

	cases := []string{
		"/join",
		"/msg 7",
		"/msg lobby hi",
		"/leave",
		"/leave 1 2",
		"/presence",
		"/unknown",
	}
	for _, line := range cases {
		assert.Error(t, dispatch(eng, line), line)
	}
}

func TestDispatchQueuesCommands(t *testing.T) {
	eng := engine.New(8, 8)
	defer eng.Close()

	require.NoError(t, dispatch(eng, "/presence away"))
	require.NoError(t, dispatch(eng, "/msg 7 hello there"))
	require.NoError(t, dispatch(eng, "/join 7 u-2 u-3"))
	require.NoError(t, dispatch(eng, "/leave 7"))
}
