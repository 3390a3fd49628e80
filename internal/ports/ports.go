// Package ports defines the narrow interfaces the engine consumes from its
// host application (spec §6): a generic persistence store and a rich-text
// editor surface. Both are explicitly out of scope to implement (spec §1
// Non-goals) — only the interfaces are shipped; production implementations
// live in the host application, test fakes live alongside internal/chunker.
package ports

import "context"

// Store is the generic key-value/document persistence the host application
// provides (spec §6's Persistence interface, narrowed to what the Chunk
// Controller actually calls — project/chapter CRUD and settings are the
// host's concern, not the engine's).
type Store interface {
	GetSetting(ctx context.Context, key string, def string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Editor is the rich-text editor surface the Chunk Controller streams into
// and commits against (spec §6's Editor interface).
type Editor interface {
	GetContent(ctx context.Context) (string, error)
	SetContent(ctx context.Context, html string) error
	AppendContent(ctx context.Context, html string) error
	Clear(ctx context.Context) error
	GetWordCount(ctx context.Context) (int, error)
}
