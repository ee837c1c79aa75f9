package app

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

// testModeEnv is set by internal/testing/guard in test binaries.
const testModeEnv = "SCHOOLLEDGER_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	on, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(testModeEnv)))
	return err == nil && on
})

// InTestMode reports whether request logging and background listeners are
// off. The environment is read once per process.
func InTestMode() bool {
	return testMode()
}
