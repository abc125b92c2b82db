package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/learnsearch/internal/domain"
)

const aliasFileName = "aliases.json"

// aliasRecord names the backing indices an object type's aliases point to.
type aliasRecord struct {
	Current    string `json:"current,omitempty"`
	Reindexing string `json:"reindexing,omitempty"`
}

type aliasFile map[domain.ObjectType]*aliasRecord

func loadAliases(root string) (aliasFile, error) {
	aliases := make(aliasFile)
	if root == "" {
		return aliases, nil
	}
	data, err := os.ReadFile(filepath.Join(root, aliasFileName))
	if os.IsNotExist(err) {
		return aliases, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read aliases: %w", err)
	}
	if err := json.Unmarshal(data, &aliases); err != nil {
		return nil, fmt.Errorf("parse aliases: %w", err)
	}
	for ot, rec := range aliases {
		if rec == nil {
			delete(aliases, ot)
		}
	}
	return aliases, nil
}

// save writes the record with a temp file and rename so a crash never leaves
// a torn file behind.
func (a aliasFile) save(root string) error {
	if root == "" {
		return nil
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode aliases: %w", err)
	}
	tmp, err := os.CreateTemp(root, aliasFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("write aliases: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write aliases: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync aliases: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write aliases: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(root, aliasFileName)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace aliases: %w", err)
	}
	return nil
}

func (a aliasFile) get(ot domain.ObjectType) *aliasRecord {
	rec, ok := a[ot]
	if !ok {
		rec = &aliasRecord{}
		a[ot] = rec
	}
	return rec
}

// references reports whether any alias points to name.
func (a aliasFile) references(name string) bool {
	for _, rec := range a {
		if rec.Current == name || rec.Reindexing == name {
			return true
		}
	}
	return false
}

func (a aliasFile) clone() aliasFile {
	out := make(aliasFile, len(a))
	for ot, rec := range a {
		r := *rec
		out[ot] = &r
	}
	return out
}
