package main

import (
	"log"

	tool "github.com/nikolaospapagiannis/OpenMeet-sub007/internal/tools/seed"
)

func main() {
	if err := tool.NewRootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}
