package util

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
	assert.Equal(t, "abcdef", Truncate("abcdef", 0))
	assert.Equal(t, "boom", Excerpt("\n  boom \n", 10))
}

func TestBail(t *testing.T) {
	code := -1
	old := exit
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = old })

	logger, hook := test.NewNullLogger()

	Bail(logger, nil)
	assert.Equal(t, -1, code)
	assert.Empty(t, hook.AllEntries())

	Bail(logger, errors.New("no executable"))
	assert.Equal(t, INTERNAL_ERROR, code)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "no executable", hook.LastEntry().Data[logrus.ErrorKey].(error).Error())

	code = -1
	MessageBail(logger, "bad")
	assert.Equal(t, INTERNAL_ERROR, code)
	assert.Equal(t, "bad", hook.LastEntry().Message)
}
