package watchdog

import "os"

func osExit(code int) {
	os.Exit(code)
}
