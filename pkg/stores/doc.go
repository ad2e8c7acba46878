// Package stores persists the transition history of a rekindle
// process.
//
// The SQLite-backed store records one row per terminal transition
// outcome: which operation ran, whether it succeeded, which component
// failed, and the component set the transition left behind. A failed
// transition leaves the system queryable in its last-known partial
// form, and the history store extends that visibility across process
// restarts.
//
// The store implements supervisor.Recorder, so wiring it is one field:
//
//	store, _ := stores.NewSQLiteStore(stores.Config{Path: "rekindle.db"})
//	_ = store.Init(ctx)
//	_ = store.Migrate(ctx)
//	sup := supervisor.New(reg, supervisor.Options{Recorder: store})
package stores
