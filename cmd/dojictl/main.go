package main

import (
	"fmt"
	"os"

	"doji/internal/ipc"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: dojictl <save|leave>")
		os.Exit(2)
	}
	if err := ipc.SendCommand(os.Args[1]); err != nil {
		fmt.Println("doji daemon not running:", err)
		os.Exit(1)
	}
}
