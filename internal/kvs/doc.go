// Package kvs persists small pieces of application state, such as UI
// preferences, as JSON values under string keys.
//
// One Store interface has several backends:
//
//   - FileStore keeps every key in one pretty-printed JSON object at
//     <base_dir>/.local/<namespace>/kvs.json (desktop and mobile).
//   - BrowserStore uses window.localStorage, one entry per key (js/wasm).
//   - SQLiteStore keeps one row per key in a SQLite database.
//   - RemoteStore talks to another process serving the kvs HTTP API.
//   - MemoryStore lives only as long as the process.
//
// Open picks a backend by name, or the platform default when no name is given.
package kvs
