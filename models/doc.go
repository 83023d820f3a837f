// Package models builds the embedding models and chat models a session can select.
//
// Embedding identifiers:
//   - "llama3": a local Ollama model, no credential
//   - "OpenAIEmbeddings": text-embedding-ada-002, credential required
//
// Chat identifiers:
//   - "DeepSeek-V3": deepseek-chat on the DeepSeek OpenAI-compatible endpoint
//   - "gpt-3.5-turbo", "gpt-4": OpenAI chat completions
//
// Every chat model is wrapped so that calls run at temperature 0 and transient
// failures are retried with exponential backoff. Nothing is sent over the network
// while building.
package models
