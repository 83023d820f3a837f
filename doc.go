// Docqa - question answering over a single uploaded document.
//
// A user uploads a document, picks an embedding model and a chat model, builds a
// vector collection from the document and then asks questions about it. Each
// question is rewritten into search keywords, the closest chunks are retrieved and
// the chat model answers from them. The conversation is checkpointed after every
// turn, and when a new document replaces the current one the old session is saved
// as a JSON record that can be restored later.
//
// # Quick Start
//
// Run the server with the default configuration:
//
//	go run ./cmd/docqa -port 8000
//
// Then drive it over HTTP:
//
//	curl -F file=@manual.pdf http://localhost:8000/api/upload
//	curl -d '{"embedding_model_name":"llama3","llm_name":"gpt-4","llm_api_key":"sk-..."}' \
//		http://localhost:8000/api/set_models
//	curl -X POST http://localhost:8000/api/embedding
//	curl -d '{"question":"How long is the warranty?"}' http://localhost:8000/api/chat
//
// Every endpoint answers with the same envelope:
//
//	{"source": "chat", "state": true, "message": "...", "addition_args": {...}}
//
// # Package Structure
//
// config/
// Defaults, an optional YAML file and environment overrides.
//
// models/
// Builders for the supported embedding and chat models.
//
//	llm, err := models.BuildLLM(models.LLMGPT4, apiKey, models.Options{})
//	embedder, err := models.BuildEmbedder(models.EmbeddingLlama3, "", models.Options{
//		OllamaURL: "http://localhost:11434",
//	})
//
// rag/
// Document loading, chunking and the vector collections (a local SQLite file,
// Chroma or pgvector).
//
//	indexer := rag.NewIndexer(rag.Options{CacheDir: "files/VectorCache"})
//	idx, err := indexer.Index(ctx, "files/Temp/manual.pdf", embedder)
//
// conversation/
// The question answering pipeline: retrieve, then generate.
//
//	p, err := conversation.New(llm, idx.Store, conversation.Options{ThreadID: "1"})
//	reply, err := p.Ask(ctx, "How long is the warranty?")
//
// store/
// Checkpoint persistence with memory, file, SQLite, Redis and PostgreSQL backends.
//
// session/
// Per-session document state, the session registry and the saved records.
//
// service/
// The operations behind the HTTP endpoints, each returning a result.Result.
//
// server/
// Routes, middleware and markdown rendering.
//
// log/
// The leveled logger used everywhere, backed by golog.
package docqa // import "github.com/smallnest/docqa"
