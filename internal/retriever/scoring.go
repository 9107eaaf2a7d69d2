package retriever

import (
	"context"
	"math"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/store"
)

// smoothing is added to raw term frequencies before taking the logarithm.
const smoothing = 1.2

// floorWeight stands in for a query term the document does not contain: the
// smoothed weight of a zero frequency.
var floorWeight = math.Log(smoothing)

// Vector maps terms to TF-IDF weights.
type Vector map[string]float64

// IDF returns 1 + ln(n/nt), or 1 when no document contains the term.
func IDF(n, nt int) float64 {
	if nt <= 0 {
		return 1.0
	}
	return 1 + math.Log(float64(n)/float64(nt))
}

func tfWeight(tf int) float64 {
	return math.Log(smoothing + float64(tf))
}

// CorpusIDF computes the IDF of every term in the lexicon.
func CorpusIDF(ctx context.Context, r store.Reader) (map[string]float64, error) {
	n, err := r.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	dfs, err := r.DocumentFrequencies(ctx)
	if err != nil {
		return nil, err
	}
	idf := make(map[string]float64, len(dfs))
	for term, nt := range dfs {
		idf[term] = IDF(n, nt)
	}
	return idf, nil
}

// TFIDFQuery weights parsed query terms. Terms missing from idf keep their
// smoothed frequency weight unboosted.
func TFIDFQuery(freqs map[string]int, idf map[string]float64) Vector {
	v := make(Vector, len(freqs))
	for term, tf := range freqs {
		v[term] = weight(term, tf, idf)
	}
	return v
}

// TFIDFDocument weights the stored lexicon of doc.
func TFIDFDocument(ctx context.Context, r store.Reader, doc store.Document, idf map[string]float64) (Vector, error) {
	rows, err := r.ListDocTerms(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	v := make(Vector, len(rows))
	for _, row := range rows {
		// The lexicon may have moved on since idf was computed.
		v[row.Term] = weight(row.Term, row.Frequency, idf)
	}
	return v, nil
}

func weight(term string, tf int, idf map[string]float64) float64 {
	w := tfWeight(tf)
	if boost, ok := idf[term]; ok {
		w *= boost
	}
	return w
}

// CosineSimilarity compares q and d over the terms of q only. A query term
// absent from d counts with floorWeight. ok is false when either norm is
// zero, which happens only for an empty query.
func CosineSimilarity(q, d Vector) (similarity float64, ok bool) {
	var dot, qNorm, dNorm float64
	for term, qw := range q {
		dw, present := d[term]
		if !present {
			dw = floorWeight
		}
		dot += qw * dw
		qNorm += qw * qw
		dNorm += dw * dw
	}
	if qNorm == 0 || dNorm == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(qNorm) * math.Sqrt(dNorm)), true
}
