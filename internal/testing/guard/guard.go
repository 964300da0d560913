// Package guard switches the process into test mode when imported, so binaries and wiring
// exercised from tests skip their runtime side effects.
package guard

import (
	"os"
	"sync"
)

// TestModeEnv is the variable read by app.InTestMode.
const TestModeEnv = "DOCFLOW_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(TestModeEnv) == "" {
			_ = os.Setenv(TestModeEnv, "1")
		}
		if os.Getenv("GOTENBERG_URL") == "" {
			_ = os.Setenv("GOTENBERG_URL", "http://127.0.0.1:0")
		}
	})
}
