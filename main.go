package main

import (
	"fmt"
	"os"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "JSONTable"
)

func main() {
	fmt.Printf("%s v%s\n", Name, Version)
	fmt.Println("Columnar ingestion engine for JSON Lines streams")
	os.Exit(0)
}
