package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// EntityRef points at a node by label and row id.
type EntityRef struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

// ChunkInput is one chunk to write, in reading order. A nil Embedding stores
// the chunk with embedding_missing set, which keeps it out of vector search.
type ChunkInput struct {
	Text        string
	SectionType string
	ContentHash string
	Embedding   []float32
	Mentions    []EntityRef
}

// Chunk is a stored chunk.
type Chunk struct {
	ID               int64  `json:"id"`
	DocumentID       int64  `json:"document_id"`
	Seq              int    `json:"seq"`
	Text             string `json:"text"`
	SectionType      string `json:"section_type"`
	ContentHash      string `json:"content_hash"`
	EmbeddingMissing bool   `json:"embedding_missing"`
}

// ReplaceResult summarises a chain replacement.
type ReplaceResult struct {
	Removed  int `json:"removed"`
	Inserted int `json:"inserted"`
	Next     int `json:"next"`
	Mentions int `json:"mentions"`
	Missing  int `json:"embedding_missing"`
}

// EnsureDocument returns the id of the document with the given source id,
// creating a bare row if none exists. Existing properties are untouched.
func (s *Store) EnsureDocument(ctx context.Context, sourceID string) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO documents (source_id, src_rank) VALUES (?, ?)
			ON CONFLICT(source_id) DO UPDATE SET source_id = excluded.source_id
			RETURNING id
		`, sourceID, Rank("", 0)).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("ensuring document %s: %w", sourceID, err)
	}
	return id, nil
}

// ReplaceChunkChain atomically swaps the chunk chain of a document: old
// chunks, their vectors and every edge touching them are removed, then the
// new chunks are written with HAS_CHUNK, NEXT and MENTIONS edges.
func (s *Store) ReplaceChunkChain(ctx context.Context, documentID int64, chunks []ChunkInput) (*ReplaceResult, error) {
	res := &ReplaceResult{}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		old, err := chunkIDs(ctx, tx, documentID)
		if err != nil {
			return err
		}
		res.Removed = len(old)
		if len(old) > 0 {
			ph := placeholders(len(old))
			args := int64Args(old)
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
				DELETE FROM edges
				WHERE (src_kind = 'Chunk' AND src_id IN (%s)) OR (dst_kind = 'Chunk' AND dst_id IN (%s))`, ph, ph),
				append(args, args...)...); err != nil {
				return fmt.Errorf("detaching old chunks: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf("DELETE FROM vec_chunks WHERE chunk_id IN (%s)", ph), args...); err != nil {
				return fmt.Errorf("deleting old vectors: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
				return fmt.Errorf("deleting old chunks: %w", err)
			}
		}

		gtx := &Tx{tx: tx}
		var prev int64
		for i, c := range chunks {
			var id int64
			missing := c.Embedding == nil
			section := c.SectionType
			if section == "" {
				section = "general"
			}
			if err := tx.QueryRowContext(ctx, `
				INSERT INTO chunks (document_id, seq, text, section_type, content_hash, embedding_missing)
				VALUES (?, ?, ?, ?, ?, ?) RETURNING id
			`, documentID, i, c.Text, section, c.ContentHash, missing).Scan(&id); err != nil {
				return fmt.Errorf("inserting chunk %d: %w", i, err)
			}
			res.Inserted++

			if missing {
				res.Missing++
			} else {
				if len(c.Embedding) != s.embeddingDim {
					return fmt.Errorf("chunk %d: embedding has %d dimensions, want %d", i, len(c.Embedding), s.embeddingDim)
				}
				blob, err := sqlite_vec.SerializeFloat32(c.Embedding)
				if err != nil {
					return fmt.Errorf("serializing chunk %d embedding: %w", i, err)
				}
				if _, err := tx.ExecContext(ctx,
					"INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)", id, blob); err != nil {
					return fmt.Errorf("inserting chunk %d embedding: %w", i, err)
				}
			}

			edges := []Edge{{Rel: RelHasChunk, SrcKind: LabelDocument, SrcID: documentID, DstKind: LabelChunk, DstID: id}}
			if i > 0 {
				edges = append(edges, Edge{Rel: RelNext, SrcKind: LabelChunk, SrcID: prev, DstKind: LabelChunk, DstID: id})
			}
			for _, m := range c.Mentions {
				edges = append(edges, Edge{Rel: RelMentions, SrcKind: LabelChunk, SrcID: id, DstKind: m.Kind, DstID: m.ID})
			}
			for _, e := range edges {
				e.DocumentID = documentID
				out, err := gtx.InsertEdge(ctx, e, "")
				if err != nil {
					return err
				}
				if out == Created {
					switch e.Rel {
					case RelNext:
						res.Next++
					case RelMentions:
						res.Mentions++
					}
				}
			}
			prev = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func chunkIDs(ctx context.Context, tx *sql.Tx, documentID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM chunks WHERE document_id = ?", documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ChunkChain walks a document's NEXT chain from its head. The returned
// slice is in chain order; a broken or branching chain is an error.
func (s *Store) ChunkChain(ctx context.Context, sourceID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.seq, c.text, c.section_type, c.content_hash, c.embedding_missing
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.source_id = ?`, sourceID)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Chunk)
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Seq, &c.Text, &c.SectionType, &c.ContentHash, &c.EmbeddingMissing); err != nil {
			rows.Close()
			return nil, err
		}
		byID[c.ID] = c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(byID) == 0 {
		return nil, nil
	}

	next := make(map[int64]int64)
	hasPrev := make(map[int64]bool)
	erows, err := s.db.QueryContext(ctx, `
		SELECT e.src_id, e.dst_id FROM edges e
		JOIN chunks c ON c.id = e.src_id
		JOIN documents d ON d.id = c.document_id
		WHERE e.rel_type = 'NEXT' AND d.source_id = ?`, sourceID)
	if err != nil {
		return nil, err
	}
	defer erows.Close()
	for erows.Next() {
		var src, dst int64
		if err := erows.Scan(&src, &dst); err != nil {
			return nil, err
		}
		if _, dup := next[src]; dup {
			return nil, fmt.Errorf("chunk %d has more than one NEXT edge", src)
		}
		if hasPrev[dst] {
			return nil, fmt.Errorf("chunk %d has more than one predecessor", dst)
		}
		next[src] = dst
		hasPrev[dst] = true
	}
	if err := erows.Err(); err != nil {
		return nil, err
	}

	var head int64 = -1
	for id := range byID {
		if !hasPrev[id] {
			if head != -1 {
				return nil, fmt.Errorf("document %s has more than one chain head", sourceID)
			}
			head = id
		}
	}
	if head == -1 {
		return nil, fmt.Errorf("document %s chain has a cycle", sourceID)
	}

	chain := make([]Chunk, 0, len(byID))
	for id, ok := head, true; ok; id, ok = next[id] {
		chain = append(chain, byID[id])
		if len(chain) > len(byID) {
			return nil, fmt.Errorf("document %s chain has a cycle", sourceID)
		}
	}
	if len(chain) != len(byID) {
		return nil, fmt.Errorf("document %s chain visits %d of %d chunks", sourceID, len(chain), len(byID))
	}
	return chain, nil
}

// ---------------------------------------------------------------------------
// Embedding cache
// ---------------------------------------------------------------------------

// CachedEmbeddings returns the stored embeddings for the given content
// hashes under one model. Missing hashes are absent from the map.
func (s *Store) CachedEmbeddings(ctx context.Context, model string, hashes []string) (map[string][]float32, error) {
	out := make(map[string][]float32)
	if len(hashes) == 0 {
		return out, nil
	}
	args := []any{model}
	for _, h := range hashes {
		args = append(args, h)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT content_hash, embedding FROM embedding_cache WHERE model = ? AND content_hash IN (%s)",
		placeholders(len(hashes))), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var h string
		var blob []byte
		if err := rows.Scan(&h, &blob); err != nil {
			return nil, err
		}
		out[h] = deserializeFloat32(blob)
	}
	return out, rows.Err()
}

// PutEmbeddings stores embeddings by content hash.
func (s *Store) PutEmbeddings(ctx context.Context, model string, embeddings map[string][]float32) error {
	if len(embeddings) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO embedding_cache (content_hash, model, embedding) VALUES (?, ?, ?)
			ON CONFLICT(content_hash, model) DO UPDATE SET embedding = excluded.embedding`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for h, v := range embeddings {
			blob, err := sqlite_vec.SerializeFloat32(v)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, h, model, blob); err != nil {
				return fmt.Errorf("caching embedding %s: %w", h, err)
			}
		}
		return nil
	})
}

// deserializeFloat32 decodes the little-endian float32 layout sqlite-vec uses.
func deserializeFloat32(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
