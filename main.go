package main

import (
	// Register the drive providers.
	_ "github.com/chuxijin/pansync/internal/provider/alist"
	_ "github.com/chuxijin/pansync/internal/provider/baidu"
	_ "github.com/chuxijin/pansync/internal/provider/quark"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}
