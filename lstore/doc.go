// Package lstore implements a single-node, in-process columnar storage
// engine over fixed-width integer columns. Tables keep an immutable "base"
// page array and an append-only "tail" page array of versioned updates;
// a background merge engine periodically folds tail records back into base
// pages while readers and writers continue. Isolation is provided by
// strict two-phase locking over a process-global record lock table, not by
// multi-version snapshotting.
package lstore
