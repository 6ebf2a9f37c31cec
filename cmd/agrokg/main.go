// Command agrokg loads extraction records and label text into the agronomic
// knowledge graph and queries it.
//
// The store needs SQLite's FTS5 module, which go-sqlite3 only compiles in
// with the sqlite_fts5 build tag:
//
//	CGO_ENABLED=1 go build -tags sqlite_fts5 ./cmd/agrokg
//	agrokg init
//	agrokg load ./records
//	agrokg index-dir ./labels
//	agrokg query hybrid "ryegrass control in wheat" --k 5
//
// Tests that open a store need the same tag:
//
//	CGO_ENABLED=1 go test -tags sqlite_fts5 ./...
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
