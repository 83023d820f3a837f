package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/smallnest/docqa/conversation"
)

// ErrNoDocument is returned when saving a session that never received a file.
var ErrNoDocument = errors.New("no document in session")

// Entry is one transcript line of a persisted record.
type Entry struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// Record is the on-disk form of a superseded session. The "lanuage" key is kept
// as-is for compatibility with existing history files.
type Record struct {
	FileName           string  `json:"file_name"`
	TmpFilePath        string  `json:"tmp_file_path"`
	Language           string  `json:"lanuage"`
	EmbeddingModelName string  `json:"embedding_model_name"`
	LLMName            string  `json:"llm_name"`
	VectorCachePath    string  `json:"vector_cache_path"`
	ChatHistory        []Entry `json:"chat_history"`
}

// Messages converts the transcript back into conversation messages.
func (r *Record) Messages() []conversation.Message {
	out := make([]conversation.Message, len(r.ChatHistory))
	for i, e := range r.ChatHistory {
		out[i] = conversation.Message{Role: conversation.Role(e.Role), Content: e.Message}
		if out[i].Role == conversation.RoleTool {
			out[i].ToolName = conversation.RetrieveToolName
			out[i].ToolCallID = conversation.RetrieveToolCallID
		}
	}
	return out
}

// RecordInfo summarizes a record file for listing.
type RecordInfo struct {
	Name     string    `json:"name"`
	FileName string    `json:"file_name"`
	LLMName  string    `json:"llm_name"`
	Messages int       `json:"messages"`
	ModTime  time.Time `json:"mod_time"`
}

// RecordName maps a document file name to its record file name: the base name
// without extension plus ".json".
func RecordName(fileName string) string {
	base := filepath.Base(fileName)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".json"
}

// SaveRecord writes r into dir and returns the written path.
func SaveRecord(dir string, r Record) (string, error) {
	if r.FileName == "" {
		return "", ErrNoDocument
	}
	if r.ChatHistory == nil {
		r.ChatHistory = []Entry{}
	}
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create history directory: %w", err)
	}
	path := filepath.Join(dir, RecordName(r.FileName))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write record: %w", err)
	}
	return path, nil
}

// LoadRecord reads a record file.
func LoadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse record %s: %w", filepath.Base(path), err)
	}
	return &r, nil
}

// ListRecords returns the records in dir, newest first. Unreadable files are skipped.
func ListRecords(dir string) ([]RecordInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []RecordInfo{}, nil
		}
		return nil, err
	}

	out := []RecordInfo{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		r, err := LoadRecord(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, RecordInfo{
			Name:     e.Name(),
			FileName: r.FileName,
			LLMName:  r.LLMName,
			Messages: len(r.ChatHistory),
			ModTime:  info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}
