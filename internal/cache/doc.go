// Package cache provides the bounded LRU cache behind shader compilation.
//
//	c := cache.New[string, *device.ShaderBinary](256)
//	c.Set(key, bin)
//	bin, ok := c.Get(key)
//
// A Cache is safe for concurrent use.
package cache
