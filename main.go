package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/dianpeng/colsql/cli"
)

func oops(err error) {
	fmt.Fprintf(os.Stderr, "ERROR %s\n", err)
	os.Exit(1)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		stop()
		oops(err)
	}
}
