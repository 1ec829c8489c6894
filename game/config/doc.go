// Package config provides map management for Key Quest.
//
// The config package handles:
//   - Loading map definitions from a directory of JSON files
//   - Validation through the engine package
//   - Default map selection with a built-in fallback
//   - Layout fingerprints for map listings
//   - Reloading when files in the directory change
//
// Map Format:
//
// A map is a JSON object whose layout is a list of equal length strings. Each
// character is looked up in the legend (default: B wall, . floor, D door,
// K key, P spawn). Doors and keys may be given colors by id:
//
//	{
//	  "name": "tiny",
//	  "layout": ["BBBBB", "BPKDB", "BBBBB"],
//	  "doors": {"door1": {"color": "red"}},
//	  "keys": {"key1": {"color": "red"}}
//	}
//
// Usage:
//
//	manager, err := config.NewManager("maps", "classic")
//	if err != nil {
//		log.Fatal(err)
//	}
//	go manager.Watch(ctx)
//
//	current := manager.GetDefault()
//	maps, err := manager.ListConfigs()
package config
