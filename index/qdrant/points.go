package qdrant

import (
	"maps"
	"slices"

	"github.com/poiesic/kbingest/core"
	"github.com/poiesic/kbingest/index"
	"github.com/qdrant/go-client/qdrant"
)

func keysPayload(key string) []any {
	prefixes := index.KeyPrefixes(key)
	out := make([]any, len(prefixes))
	for i, p := range prefixes {
		out[i] = p
	}
	return out
}

func labelsPayload(labels []string) []any {
	out := make([]any, len(labels))
	for i, l := range labels {
		out[i] = l
	}
	return out
}

// BuildPoints converts the paragraphs and sentences of msg into points.
// Points are ordered by key.
func BuildPoints(msg *core.IndexMessage, txid index.Txid) []*qdrant.PointStruct {
	var points []*qdrant.PointStruct
	for _, field := range slices.Sorted(maps.Keys(msg.Paragraphs)) {
		paragraphs := msg.Paragraphs[field]
		for _, key := range slices.Sorted(maps.Keys(paragraphs)) {
			p := paragraphs[key]
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewID(PointID(key)),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{}),
				Payload: qdrant.NewValueMap(map[string]any{
					"kind":            kindParagraph,
					"key":             key,
					"keys":            keysPayload(key),
					"rid":             msg.ResourceID,
					"kbid":            txid.KBID,
					"field":           field,
					"split":           p.Split,
					"start":           int64(p.Start),
					"end":             int64(p.End),
					"page":            int64(p.Position.PageNumber),
					"repeated":        p.RepeatedInField,
					"labels":          labelsPayload(p.Labels),
					"seqid":           txid.SeqID,
					"resource_labels": labelsPayload(msg.Labels),
				}),
			})
			for _, skey := range slices.Sorted(maps.Keys(p.Sentences)) {
				s := p.Sentences[skey]
				points = append(points, &qdrant.PointStruct{
					Id: qdrant.NewID(PointID(skey)),
					Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
						sentenceVector: qdrant.NewVector(s.Vector...),
					}),
					Payload: qdrant.NewValueMap(map[string]any{
						"kind":      kindSentence,
						"key":       skey,
						"keys":      keysPayload(skey),
						"paragraph": key,
						"rid":       msg.ResourceID,
						"kbid":      txid.KBID,
						"field":     field,
						"start":     int64(s.Position.Start),
						"end":       int64(s.Position.End),
						"page":      int64(s.Position.PageNumber),
						"seqid":     txid.SeqID,
					}),
				})
			}
		}
	}
	return points
}

// BuildUserVectorPoints converts one vectorset of user vectors into points.
func BuildUserVectorPoints(rid string, vectors map[string]core.UserVector, txid index.Txid) []*qdrant.PointStruct {
	points := make([]*qdrant.PointStruct, 0, len(vectors))
	for _, key := range slices.Sorted(maps.Keys(vectors)) {
		uv := vectors[key]
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(key)),
			Vectors: qdrant.NewVectors(uv.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"kind":   kindUserVector,
				"key":    key,
				"keys":   keysPayload(key),
				"rid":    rid,
				"kbid":   txid.KBID,
				"labels": labelsPayload(uv.Labels),
				"start":  int64(uv.Start),
				"end":    int64(uv.End),
				"seqid":  txid.SeqID,
			}),
		})
	}
	return points
}
