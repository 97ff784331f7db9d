// Command casgc reclaims chunk store storage: it loads a storage directory
// the same way pixie-server does on startup (reconciling ref counts from
// every image manifest) and deletes any chunk left with a zero ref count.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/store"
)

func main() {
	storageDir := flag.String("storage-dir", "storage", "chunk and image storage directory")
	flag.Parse()

	// validImage is consulted only by the image operations, never by Load's
	// reconciliation pass or GCChunks, so casgc never needs to parse
	// config.yaml.
	st, err := store.Load(*storageDir, func(string) bool { return true })
	if err != nil {
		fmt.Fprintf(os.Stderr, "load store: %v\n", err)
		os.Exit(1)
	}

	if err := st.GCChunks(); err != nil {
		fmt.Fprintf(os.Stderr, "gc: %v\n", err)
		os.Exit(2)
	}
	fmt.Println("chunk store garbage collection complete")
}
