// Package pebblestore provides a thin wrapper around Pebble with fsync policy,
// batches, prefix scans and minimal metrics hooks. The event log, the Pebble
// snapshot store and the built-in projections all share one DB.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeAlways,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	_ = db.Set(ctx, []byte("k"), []byte("v"))
//	v, _ := db.Get([]byte("k"))
//	_ = db.ScanPrefix([]byte("snap/"), func(k, v []byte) error { return nil })
package pebblestore
