// Package rag turns an uploaded document into a searchable vector collection.
//
// Indexing runs in fixed steps, each failing with its own error:
//
//  1. load the file into page-level documents (PDF, plain text, Markdown, HTML)
//  2. split pages into overlapping chunks, keeping document order
//  3. require an embedding model
//  4. recreate the collection directory under the vector cache root
//  5. embed and insert every chunk
//
// The collection is a langchaingo vectorstores.VectorStore. The default backend is
// a SQLite file inside the collection directory (see package rag/local); Chroma
// and pgvector are available for shared deployments, in which case the directory
// only holds a manifest describing the remote collection.
package rag
