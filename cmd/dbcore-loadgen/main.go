package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"dbcore/btree"
	"dbcore/internal/buffer"
	"dbcore/internal/disk"
	"dbcore/internal/fixtures"
	"dbcore/internal/pkg/logging"
)

const defaultDbFileName = "db"

func main() {
	var (
		n        = flag.Int("n", 10000, "number of keys to insert")
		poolSize = flag.Int("pool-size", 128, "buffer pool frame count")
		leafMax  = flag.Int("leaf-max", 128, "B+ tree leaf node fanout")
		intMax   = flag.Int("internal-max", 128, "B+ tree internal node fanout")
		seed     = flag.Uint64("seed", 42, "fixture generator seed")
	)
	flag.Parse()

	logConf := logging.DefaultConfig()

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	l, err := logging.ParseLevel(level)
	if err != nil {
		panic(err)
	}
	logConf.Level = zap.NewAtomicLevelAt(l)

	logger, err := logConf.Build()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() // flushes buffer, if any

	fresh := false
	if _, statErr := os.Stat(defaultDbFileName); os.IsNotExist(statErr) {
		fresh = true
	}

	dbFile, err := os.OpenFile(defaultDbFileName, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		panic(err)
	}
	defer dbFile.Close()

	info, err := dbFile.Stat()
	if err != nil {
		panic(err)
	}

	diskMgr, err := disk.Open(dbFile, info.Size(), disk.WithLogger(logger))
	if err != nil {
		panic(err)
	}
	defer diskMgr.Close()

	pool := buffer.New(diskMgr, *poolSize, buffer.WithLogger(logger))

	catalog, err := btree.OpenCatalog(pool, fresh)
	if err != nil {
		panic(err)
	}

	tree, err := btree.Open(pool, catalog, "loadgen", btree.Int64Codec(), *leafMax, *intMax, btree.WithLogger[int64](logger))
	if err != nil {
		panic(err)
	}

	gen := fixtures.New(*seed)
	keys, vals := gen.Pairs(*n)

	inserted := 0
	for i, k := range keys {
		ok, err := tree.Insert(k, vals[i])
		if err != nil {
			logger.Fatal("insert failed", zap.Int64("key", k), zap.Error(err))
		}
		if ok {
			inserted++
		}
	}

	pool.FlushAll()
	catalog.Flush()

	logger.Info("load generation complete",
		zap.Int("requested", *n),
		zap.Int("inserted", inserted),
	)
	fmt.Printf("inserted %d/%d keys into %q\n", inserted, *n, defaultDbFileName)
}
