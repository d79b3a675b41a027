// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package storage provides the key/value transaction abstraction for kbingest.
//
// This package defines the Driver and Txn interfaces that decouple the
// ingestion core from a particular store. Two drivers ship with the module:
//
//	storage/badger  optimistic, concurrent read-write transactions (default)
//	storage/bolt    single-writer transactions on one file
//
// # Key Layout
//
// Every key is a slash separated path. The builders in keys.go are the only
// place that knows the layout:
//
//	/kbs/{kbid}/config
//	/kbs/{kbid}/s/{slug}
//	/kbs/{kbid}/r/{uuid}
//	/kbs/{kbid}/r/{uuid}/f/{type}/{field}
//	/kbs/{kbid}/r/{uuid}/f/{type}/{field}/error
//	/partitions/{partition}/last_seqid
//
// # Encoding
//
// Records are encoded with msgpack. The per-partition sequence counter is a
// mus-go varint so it stays a few bytes long.
//
// # Usage
//
//	driver, err := badger.OpenBackend(path, false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer driver.Close()
//
//	err = storage.WithTransaction(ctx, driver, func(txn storage.Txn) error {
//	    return txn.Set(ctx, key, value)
//	})
//
// # Thread Safety
//
// Drivers are thread-safe. Transactions are owned by a single goroutine.
package storage
