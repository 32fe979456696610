// Inspect a FlashTree update-in-place index image.
// Usage: go run ./cmd/inspect_idx <path-to-image> [capacityPages]
package main

import (
	"fmt"
	"os"
	"strconv"

	bplus "FlashTree/bplustree"
	"FlashTree/storage"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <index image> [capacityPages]\n", os.Args[0])
		os.Exit(1)
	}
	capacity := uint32(65536)
	if len(os.Args) > 2 {
		n, err := strconv.ParseUint(os.Args[2], 10, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad capacity: %v\n", err)
			os.Exit(1)
		}
		capacity = uint32(n)
	}

	st, err := storage.OpenFileStorage(os.Args[1], capacity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	tree, err := bplus.Open(bplus.Config{
		PageSize: 512,
		KeySize:  4,
		DataSize: 12,
		Mode:     bplus.ModeUpdateInPlace,
		Compare:  bplus.CompareUint32,
		Storage:  st,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer tree.Close()

	if err := tree.Dump(os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
