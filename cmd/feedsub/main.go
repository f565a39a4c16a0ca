// Command feedsub はフィード購読APIサーバーと購読ワーカーを起動する。
//
// 使い方:
//
//	feedsub [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/feedsub/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "feedsub: %v\n", err)
		os.Exit(1)
	}
}
