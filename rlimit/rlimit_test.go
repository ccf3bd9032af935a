package rlimit

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Rlimit{Resource: RLIMIT_NOFILE, Soft: 64, Hard: 128}.Validate())
	assert.Error(t, Rlimit{Resource: "RLIMIT_BOGUS"}.Validate())
	assert.Error(t, Rlimit{Resource: RLIMIT_CPU, Soft: 10, Hard: 5}.Validate())
}

func TestApplyToUnknownResource(t *testing.T) {
	err := Rlimit{Resource: "RLIMIT_BOGUS"}.ApplyTo(os.Getpid())
	assert.ErrorContains(t, err, "unknown rlimit resource option")
}

func TestApplyToSelfKeepsCurrentLimit(t *testing.T) {
	var current unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_NOFILE, &current))

	rl := Rlimit{Resource: RLIMIT_NOFILE, Soft: current.Cur, Hard: current.Max}
	require.NoError(t, ApplyAll(os.Getpid(), []Rlimit{rl}))

	var after unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_NOFILE, &after))
	assert.Equal(t, current, after)
}
