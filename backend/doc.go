// Package backend selects the Device implementation for the process.
//
// Backend packages register a Factory under a name from their init
// function; importing them is what makes them available:
//
//	import (
//		_ "github.com/gogpu/framegraph/backend/native"
//		_ "github.com/gogpu/framegraph/backend/null"
//	)
//
// Open instantiates exactly one device, either by name or, for an empty
// name, by priority: native first, then the API-specific names, null last.
//
//	dev, err := backend.Open("", device.DefaultDesc())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Close()
//
// Switching backends at runtime is not supported; close the device and
// open another.
package backend
