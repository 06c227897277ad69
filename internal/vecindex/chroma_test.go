package vecindex_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"imagesearch/internal/logger"
	"imagesearch/internal/vecindex"
)

// fakeChroma is a minimal in-memory Chroma v2 API for driver tests.
type fakeChroma struct {
	mu      sync.Mutex
	vectors map[string][]float32
}

func newFakeChroma() *fakeChroma {
	return &fakeChroma{vectors: make(map[string][]float32)}
}

func (f *fakeChroma) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == "GET" && strings.HasSuffix(r.URL.Path, "/collections/image_vecs"):
			json.NewEncoder(w).Encode(map[string]string{"id": "col-1", "name": "image_vecs"})

		case r.Method == "GET" && strings.HasSuffix(r.URL.Path, "/count"):
			f.mu.Lock()
			n := len(f.vectors)
			f.mu.Unlock()
			json.NewEncoder(w).Encode(n)

		case strings.HasSuffix(r.URL.Path, "/upsert"):
			var req struct {
				IDs        []string    `json:"ids"`
				Embeddings [][]float32 `json:"embeddings"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			f.mu.Lock()
			for i, id := range req.IDs {
				f.vectors[id] = req.Embeddings[i]
			}
			f.mu.Unlock()
			w.Write([]byte("{}"))

		case strings.HasSuffix(r.URL.Path, "/delete"):
			var req struct {
				IDs []string `json:"ids"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			f.mu.Lock()
			for _, id := range req.IDs {
				delete(f.vectors, id)
			}
			f.mu.Unlock()
			w.Write([]byte("{}"))

		case strings.HasSuffix(r.URL.Path, "/get"):
			var req struct {
				IDs []string `json:"ids"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			var ids []string
			f.mu.Lock()
			for _, id := range req.IDs {
				if _, ok := f.vectors[id]; ok {
					ids = append(ids, id)
				}
			}
			f.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{"ids": ids})

		case strings.HasSuffix(r.URL.Path, "/query"):
			var req struct {
				QueryEmbeddings [][]float32 `json:"query_embeddings"`
				NResults        int         `json:"n_results"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			query := req.QueryEmbeddings[0]

			type scored struct {
				id   string
				dist float32
			}
			var results []scored
			f.mu.Lock()
			for id, vec := range f.vectors {
				results = append(results, scored{id, 1 - vecindex.CosineSimilarity(query, vec)})
			}
			f.mu.Unlock()
			for i := 0; i < len(results); i++ {
				for j := i + 1; j < len(results); j++ {
					if results[j].dist < results[i].dist {
						results[i], results[j] = results[j], results[i]
					}
				}
			}
			if len(results) > req.NResults {
				results = results[:req.NResults]
			}
			ids := make([]string, len(results))
			dists := make([]float32, len(results))
			for i, r := range results {
				ids[i] = r.id
				dists[i] = r.dist
			}
			json.NewEncoder(w).Encode(map[string]any{
				"ids":       [][]string{ids},
				"distances": [][]float32{dists},
			})

		default:
			http.NotFound(w, r)
		}
	})
}

var _ = Describe("Chroma", func() {
	var (
		fake   *fakeChroma
		server *httptest.Server
		index  *vecindex.Chroma
	)

	BeforeEach(func() {
		fake = newFakeChroma()
		server = httptest.NewServer(fake.handler())

		var err error
		index, err = vecindex.NewChroma(vecindex.ChromaConfig{URL: server.URL}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("requires a URL", func() {
		_, err := vecindex.NewChroma(vecindex.ChromaConfig{}, logger.Nop())
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("chroma URL is required"))
	})

	It("upserts, reports and deletes vectors", func() {
		ctx := GinkgoT().Context()

		Expect(index.Upsert(ctx, "a", []float32{1, 0})).To(Succeed())

		ok, err := index.Has(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		n, err := index.Count(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		Expect(index.Delete(ctx, "a")).To(Succeed())
		ok, err = index.Has(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("queries by similarity with scores descending", func() {
		ctx := GinkgoT().Context()

		Expect(index.Upsert(ctx, "a", []float32{1, 0, 0})).To(Succeed())
		Expect(index.Upsert(ctx, "b", []float32{0, 1, 0})).To(Succeed())
		Expect(index.Upsert(ctx, "c", []float32{0.9, 0.1, 0})).To(Succeed())

		matches, err := index.Query(ctx, []float32{1, 0, 0}, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(matches).To(HaveLen(2))
		Expect(matches[0].ID).To(Equal("a"))
		Expect(matches[1].ID).To(Equal("c"))
		Expect(matches[0].Score).To(BeNumerically(">=", matches[1].Score))
	})

	It("tolerates a query response without distances", func() {
		bare := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			switch {
			case r.Method == "GET" && strings.HasSuffix(r.URL.Path, "/collections/image_vecs"):
				json.NewEncoder(w).Encode(map[string]string{"id": "col-1", "name": "image_vecs"})
			case strings.HasSuffix(r.URL.Path, "/query"):
				json.NewEncoder(w).Encode(map[string]any{
					"ids":       [][]string{{"a", "b"}},
					"distances": [][]float32{},
				})
			default:
				http.NotFound(w, r)
			}
		}))
		defer bare.Close()

		idx, err := vecindex.NewChroma(vecindex.ChromaConfig{URL: bare.URL}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())

		matches, err := idx.Query(GinkgoT().Context(), []float32{1, 0}, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(matches).To(HaveLen(2))
		Expect(matches[0].Score).To(BeZero())
	})

	It("returns no matches from an empty collection", func() {
		matches, err := index.Query(GinkgoT().Context(), []float32{1, 0}, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(matches).To(BeEmpty())
	})

	It("retries the initial connection until the server is ready", func() {
		var attempts atomic.Int32
		flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if attempts.Add(1) <= 2 {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"id": "col-1", "name": "image_vecs"})
		}))
		defer flaky.Close()

		_, err := vecindex.NewChroma(vecindex.ChromaConfig{
			URL:        flaky.URL,
			MaxRetries: 5,
			RetryDelay: 10 * time.Millisecond,
		}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		Expect(attempts.Load()).To(BeNumerically(">=", int32(3)))
	})

	It("fails after exhausting connection retries", func() {
		down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		}))
		defer down.Close()

		_, err := vecindex.NewChroma(vecindex.ChromaConfig{
			URL:        down.URL,
			MaxRetries: 3,
			RetryDelay: 10 * time.Millisecond,
		}, logger.Nop())
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("after 3 attempts"))
	})
})
