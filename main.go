// FlashTree benchmark driver: build an index on a chosen storage backend,
// load records sequentially or in a seeded random order, verify point
// lookups, run a range scan, and print the buffer traffic.
//
// Usage: go run . -n 100000 -mode cow -backend mem
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math/rand"

	"github.com/dustin/go-humanize"

	bplus "FlashTree/bplustree"
	"FlashTree/storage"
)

func main() {
	var (
		n        = flag.Int("n", 100000, "records to insert")
		mode     = flag.String("mode", "cow", "inplace | cow | overwrite")
		backend  = flag.String("backend", "mem", "file | mem | dataflash")
		path     = flag.String("path", "flashtree.dat", "file backend path")
		pageSize = flag.Int("page", 512, "page size in bytes")
		dataSize = flag.Int("data", 12, "data bytes per record")
		frames   = flag.Int("frames", 3, "buffer frames")
		block    = flag.Int("block", 8, "erase block in pages")
		capacity = flag.Uint("capacity", 16384, "device capacity in pages")
		mapBytes = flag.Int("mapping", 1024, "mapping table bytes (cow)")
		cached   = flag.Bool("cache", false, "wrap backend in a ristretto page cache")
		random   = flag.Bool("random", true, "insert a seeded permutation instead of 0..n-1")
		seed     = flag.Int64("seed", 0, "permutation seed")
	)
	flag.Parse()

	var treeMode bplus.Mode
	switch *mode {
	case "inplace":
		treeMode = bplus.ModeUpdateInPlace
	case "cow":
		treeMode = bplus.ModeCopyOnWrite
	case "overwrite":
		treeMode = bplus.ModeInPageOverwrite
	default:
		log.Fatalf("unknown mode %q", *mode)
	}

	var st storage.Storage
	switch *backend {
	case "file":
		fs, err := storage.NewFileStorage(*path, uint32(*capacity))
		if err != nil {
			log.Fatal(err)
		}
		st = fs
	case "mem":
		st = storage.NewMemStorage(uint32(*capacity), *pageSize, uint32(*block))
	case "dataflash":
		st = storage.NewDataflashStorage(uint32(*capacity), *pageSize, uint32(*block))
	default:
		log.Fatalf("unknown backend %q", *backend)
	}
	if *cached {
		cs, err := storage.NewCachedStorage(st, *pageSize, int64(*capacity)/4)
		if err != nil {
			log.Fatal(err)
		}
		st = cs
	}

	tree, err := bplus.New(bplus.Config{
		PageSize:        *pageSize,
		KeySize:         4,
		DataSize:        *dataSize,
		NumFrames:       *frames,
		EraseBlockPages: *block,
		Mode:            treeMode,
		MappingBytes:    *mapBytes,
		Compare:         bplus.CompareUint32,
		Storage:         st,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer tree.Close()

	keys := make([]uint32, *n)
	for i := range keys {
		keys[i] = uint32(i)
	}
	if *random {
		rand.New(rand.NewSource(*seed)).Shuffle(len(keys), func(i, j int) {
			keys[i], keys[j] = keys[j], keys[i]
		})
	}

	key := make([]byte, 4)
	data := make([]byte, *dataSize)
	fmt.Printf("inserting %s records (%s, %s backend)\n",
		humanize.Comma(int64(*n)), treeMode, *backend)
	for i, k := range keys {
		binary.LittleEndian.PutUint32(key, k)
		for off := 0; off+4 <= *dataSize; off += 4 {
			binary.LittleEndian.PutUint32(data[off:], k)
		}
		if err := tree.Put(key, data); err != nil {
			log.Fatalf("put %d (record %d): %v", k, i, err)
		}
		if (i+1)%100000 == 0 {
			fmt.Printf("  %s inserted\n", humanize.Comma(int64(i+1)))
		}
	}

	fmt.Printf("verifying %s lookups\n", humanize.Comma(int64(*n)))
	out := make([]byte, *dataSize)
	for _, k := range keys {
		binary.LittleEndian.PutUint32(key, k)
		if err := tree.Get(key, out); err != nil {
			log.Fatalf("get %d: %v", k, err)
		}
		if binary.LittleEndian.Uint32(out) != k {
			log.Fatalf("get %d: wrong data %d", k, binary.LittleEndian.Uint32(out))
		}
	}

	// Range scan over the second fifth of the key space.
	lo, hi := uint32(*n/5), uint32(2*(*n)/5)
	minKey := make([]byte, 4)
	maxKey := make([]byte, 4)
	binary.LittleEndian.PutUint32(minKey, lo)
	binary.LittleEndian.PutUint32(maxKey, hi)
	var it bplus.Iterator
	if err := tree.InitIterator(&it, minKey, maxKey); err != nil {
		log.Fatal(err)
	}
	scanned := 0
	for {
		_, _, ok, err := it.Next()
		if err != nil {
			log.Fatal(err)
		}
		if !ok {
			break
		}
		scanned++
	}
	fmt.Printf("range [%d,%d]: %s records\n", lo, hi, humanize.Comma(int64(scanned)))

	s := tree.BufferStats()
	fmt.Printf("levels=%d nodes=%s mappings=%d\n",
		tree.Levels(), humanize.Comma(int64(tree.NumNodes())), tree.MappingCount())
	fmt.Printf("reads=%s hits=%s writes=%s overwrites=%s relocations=%s erases=%s\n",
		humanize.Comma(int64(s.Reads)), humanize.Comma(int64(s.BufferHits)),
		humanize.Comma(int64(s.Writes)), humanize.Comma(int64(s.Overwrites)),
		humanize.Comma(int64(s.Relocations)), humanize.Comma(int64(s.Erases)))
	fmt.Printf("index footprint: %s\n",
		humanize.Bytes(uint64(s.Writes+s.Relocations)*uint64(*pageSize)))
}
