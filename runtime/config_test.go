package runtime

import (
	"github.com/wippyai/wasm-interop/config"
)

func testConfig() *config.Config {
	return config.Default()
}
