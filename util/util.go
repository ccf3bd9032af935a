package util

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var INTERNAL_ERROR = 1

// exit is swapped in tests.
var exit = os.Exit

// Bail logs err and terminates. Nothing after a bail is persisted.
func Bail(logger logrus.FieldLogger, err error) {
	if err != nil {
		logger.WithError(err).Error("fatal")
		exit(INTERNAL_ERROR)
	}
}

func MessageBail(logger logrus.FieldLogger, msg string) {
	logger.Error(msg)
	exit(INTERNAL_ERROR)
}

// Truncate cuts s to at most n bytes and marks the cut.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Excerpt is Truncate over trimmed text, used for stderr in warnings.
func Excerpt(s string, n int) string {
	return Truncate(strings.TrimSpace(s), n)
}
