// moodctl runs mood detections and probes the inference service from the shell
package main

import (
	"os"

	"github.com/moodsync/platform/internal/config"
)

func main() {
	if err := newRootCmd(config.Load).Execute(); err != nil {
		os.Exit(1)
	}
}
