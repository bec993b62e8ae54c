// ABOUTME: Package catalog holds the immutable tool registry and visibility filter.
// ABOUTME: Built once at startup from builtin and static webhook packs.

// Package catalog implements the tool catalog: a registry mapping tool
// names to their owning scope and invoke binding, built entirely before
// the server accepts connections, plus the pure visibility computation
// used to filter the catalog per connection.
package catalog
