package engine

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/Aman-CERP/learnsearch/internal/domain"
)

// Reserved fields added to every stored document.
const (
	sourceField  = "_source"
	seqField     = "_seq"
	routingField = "_routing"
)

// keywordFields are matched exactly rather than analyzed.
var keywordFields = []string{
	"readable_id",
	"resource_type",
	"etl_source",
	"resource_readable_id",
	"run_readable_id",
	"key",
	"file_type",
	"content_type",
	"platform.code",
	"offered_by.code",
	"resource_relations.name",
}

// newIndexMapping builds the mapping of one shard of an object type.
// Dynamic fields are indexed with the standard analyzer but not stored; the
// document body round-trips through _source.
func newIndexMapping(objectType domain.ObjectType) mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name
	im.StoreDynamic = false
	im.DocValuesDynamic = false

	dm := bleve.NewDocumentMapping()

	source := bleve.NewTextFieldMapping()
	source.Index = false
	source.Store = true
	source.IncludeInAll = false
	source.DocValues = false
	dm.AddFieldMappingsAt(sourceField, source)

	seq := bleve.NewNumericFieldMapping()
	seq.Store = true
	seq.IncludeInAll = false
	dm.AddFieldMappingsAt(seqField, seq)

	dm.AddFieldMappingsAt(routingField, keywordField())

	for _, path := range keywordFields {
		addFieldAt(dm, path, keywordField())
	}

	if objectType == domain.PercolateType {
		// Stored queries are evaluated, never searched.
		dm.AddSubDocumentMapping("query", bleve.NewDocumentDisabledMapping())
	}

	im.DefaultMapping = dm
	return im
}

// newPercolateMapping is the mapping of the single-document index a
// candidate is evaluated in: everything dynamic, nothing stored.
func newPercolateMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name
	im.StoreDynamic = false
	im.DocValuesDynamic = false
	return im
}

func keywordField() *mapping.FieldMapping {
	fm := bleve.NewTextFieldMapping()
	fm.Analyzer = keyword.Name
	fm.Store = false
	fm.IncludeInAll = false
	return fm
}

// addFieldAt adds fm at a dotted path, creating sub-document mappings.
func addFieldAt(dm *mapping.DocumentMapping, path string, fm *mapping.FieldMapping) {
	parent := dm
	parts := splitPath(path)
	for _, name := range parts[:len(parts)-1] {
		sub, ok := parent.Properties[name]
		if !ok {
			sub = bleve.NewDocumentMapping()
			parent.AddSubDocumentMapping(name, sub)
		}
		parent = sub
	}
	parent.AddFieldMappingsAt(parts[len(parts)-1], fm)
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	return append(parts, path[start:])
}
