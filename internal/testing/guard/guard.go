package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("SCHOOLLEDGER_TEST_MODE") == "" {
			_ = os.Setenv("SCHOOLLEDGER_TEST_MODE", "1")
		}
	})
}
