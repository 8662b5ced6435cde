package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/BaSui01/docqa/corpus"
)

// corpusSnapshot 语料快照文件格式。
type corpusSnapshot struct {
	Fragments []corpus.Fragment `json:"fragments"`
	Assets    []corpus.Asset    `json:"assets,omitempty"`
}

// loadCorpus 从 JSON 快照加载语料到内存存储。
func loadCorpus(store *corpus.MemoryStore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read corpus snapshot: %w", err)
	}
	var snapshot corpusSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("parse corpus snapshot: %w", err)
	}
	if len(snapshot.Fragments) == 0 {
		return fmt.Errorf("corpus snapshot %s contains no fragments", path)
	}
	store.Index(snapshot.Fragments, snapshot.Assets)
	return nil
}
