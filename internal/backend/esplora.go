package backend

// EsploraBackend implements Backend using the Esplora API (blockstream.info).
// Esplora shares its REST surface with mempool.space.
type EsploraBackend struct {
	*MempoolBackend
}

// NewEsploraBackend creates a new Esplora backend.
func NewEsploraBackend(baseURL string) *EsploraBackend {
	return &EsploraBackend{
		MempoolBackend: NewMempoolBackend(baseURL),
	}
}

// Type returns TypeEsplora.
func (e *EsploraBackend) Type() Type {
	return TypeEsplora
}

// Ensure EsploraBackend implements Backend
var _ Backend = (*EsploraBackend)(nil)
