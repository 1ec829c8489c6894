// Command analyze prints quick, human-readable checks for map definition
// files. It summarizes dimensions, tile counts and spawn points, flags doors
// and keys whose colours have no partner, and highlights doors and keys that
// cannot be reached from any spawn.
//
// Usage:
//
//	analyze [file.json | dir ...]
//
// With no arguments it analyzes every map in ./maps, or the built-in classic
// map when that directory has none.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/wricardo/mcp-training/keyquest/game/config"
	"github.com/wricardo/mcp-training/keyquest/game/engine"
)

// report is the result of analyzing one map.
type report struct {
	Name        string
	Width       int
	Height      int
	Footprint   float64
	Fingerprint string
	Counts      map[engine.Kind]int
	Spawns      []engine.Position
	Unreachable []string // doors and keys no spawn can walk to
	LonelyDoors []string // doors with no key of their colour
	LonelyKeys  []string // keys with no door of their colour
}

func main() {
	paths, err := mapFiles(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(paths) == 0 {
		fmt.Printf("\n=== Analyzing built-in %s ===\n", config.DefaultMapName)
		printReport(os.Stdout, analyze(engine.DefaultMapConfig()))
		return
	}

	failed := false
	for _, path := range paths {
		fmt.Printf("\n=== Analyzing %s ===\n", path)
		if err := analyzeFile(os.Stdout, path); err != nil {
			fmt.Printf("Error: %v\n", err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

// mapFiles expands args into JSON files. Directories contribute their *.json
// entries; no args means the maps directory.
func mapFiles(args []string) ([]string, error) {
	if len(args) == 0 {
		if _, err := os.Stat("maps"); os.IsNotExist(err) {
			return nil, nil
		}
		args = []string{"maps"}
	}

	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*.json"))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

func analyzeFile(w io.Writer, path string) error {
	m, err := engine.LoadMapConfig(path)
	if err != nil {
		return err
	}
	printReport(w, analyze(m))
	return nil
}

func analyze(m *engine.MapConfig) *report {
	layout := engine.BuildLayout(m)
	r := &report{
		Name:        m.Name,
		Width:       layout.Width,
		Height:      layout.Height,
		Footprint:   m.FootprintSize(),
		Fingerprint: config.Fingerprint(m),
		Counts:      layout.Counts,
		Spawns:      layout.Spawns,
	}

	reachable := make(map[string]bool)
	for _, id := range layout.Reachable() {
		reachable[id] = true
	}

	doorColors := make(map[string]int)
	keyColors := make(map[string]int)
	for _, obj := range layout.Objects {
		switch obj.Kind {
		case engine.Door:
			doorColors[obj.Door.Color]++
		case engine.Key:
			keyColors[obj.Key.Color]++
		default:
			continue
		}
		if !reachable[obj.ID] {
			r.Unreachable = append(r.Unreachable, obj.ID)
		}
	}

	for _, obj := range layout.Objects {
		switch {
		case obj.Kind == engine.Door && keyColors[obj.Door.Color] == 0:
			r.LonelyDoors = append(r.LonelyDoors, obj.ID)
		case obj.Kind == engine.Key && doorColors[obj.Key.Color] == 0:
			r.LonelyKeys = append(r.LonelyKeys, obj.ID)
		}
	}
	return r
}

func printReport(w io.Writer, r *report) {
	fmt.Fprintf(w, "Name: %s\n", r.Name)
	fmt.Fprintf(w, "Grid Size: %d x %d\n", r.Width, r.Height)
	fmt.Fprintf(w, "Footprint: %g\n", r.Footprint)
	fmt.Fprintf(w, "Fingerprint: %s\n", r.Fingerprint)
	fmt.Fprintf(w, "Walls: %d  Floor: %d  Doors: %d  Keys: %d\n",
		r.Counts[engine.Wall], r.Counts[engine.Floor], r.Counts[engine.Door], r.Counts[engine.Key])

	fmt.Fprintf(w, "Spawns (%d):", len(r.Spawns))
	for _, s := range r.Spawns {
		fmt.Fprintf(w, " (%g, %g)", s.X, s.Y)
	}
	fmt.Fprintln(w)

	if len(r.Spawns) == 0 {
		fmt.Fprintf(w, "⚠️  WARNING: no spawn tiles, every player starts at the fallback spawn\n")
	}

	if len(r.Unreachable) > 0 {
		fmt.Fprintf(w, "⚠️  WARNING: %d objects are unreachable from any spawn: %v\n", len(r.Unreachable), r.Unreachable)
	} else {
		fmt.Fprintf(w, "✅ All doors and keys are reachable from a spawn\n")
	}

	if len(r.LonelyDoors) > 0 {
		fmt.Fprintf(w, "⚠️  CRITICAL: doors with no key of their colour: %v\n", r.LonelyDoors)
	} else {
		fmt.Fprintf(w, "✅ Every door has a key of its colour\n")
	}
	if len(r.LonelyKeys) > 0 {
		fmt.Fprintf(w, "⚠️  WARNING: keys that open nothing: %v\n", r.LonelyKeys)
	}
}
