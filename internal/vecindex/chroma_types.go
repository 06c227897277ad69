package vecindex

// chromaCollection represents a Chroma collection response.
type chromaCollection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// chromaUpsertRequest is the request body for upserting vectors.
type chromaUpsertRequest struct {
	IDs        []string    `json:"ids"`
	Embeddings [][]float32 `json:"embeddings"`
}

// chromaQueryRequest is the request body for querying.
type chromaQueryRequest struct {
	QueryEmbeddings [][]float32 `json:"query_embeddings"`
	NResults        int         `json:"n_results"`
	Include         []string    `json:"include"`
}

// chromaQueryResponse is the response from a query.
type chromaQueryResponse struct {
	IDs       [][]string  `json:"ids"`
	Distances [][]float32 `json:"distances"`
}

// chromaGetRequest is the request body for getting vectors by id.
type chromaGetRequest struct {
	IDs     []string `json:"ids"`
	Include []string `json:"include"`
}

// chromaGetResponse is the response from getting vectors.
type chromaGetResponse struct {
	IDs []string `json:"ids"`
}

// chromaDeleteRequest is the request body for deleting vectors.
type chromaDeleteRequest struct {
	IDs []string `json:"ids"`
}
