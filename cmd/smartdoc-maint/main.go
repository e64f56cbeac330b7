// Command smartdoc-maint 暴露供外部调度器（cron）调用的维护操作。
package main

import (
	"os"

	"github.com/nhdandz/SmartDoc/pkg/log"
)

func main() {
	defer log.Sync()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
