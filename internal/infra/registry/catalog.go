package registry

import (
	"strings"

	"github.com/tutu-network/inferencegate/internal/domain"
)

// CatalogEntry is a well-known downloadable local model, used to seed the
// registry on first run and to answer convenience lookups by short name.
type CatalogEntry struct {
	Name        string
	Description string
	Modality    domain.Modality
	SizeBytes   int64
	HFRepo      string
	HFFile      string
	ContextSize int
}

// BuiltinCatalog lists the local models the gateway knows how to fetch by
// name without the caller supplying a full source URI.
var BuiltinCatalog = []CatalogEntry{
	{Name: "tinyllama", Description: "TinyLlama 1.1B chat", Modality: domain.ModalityText,
		SizeBytes: 669_000_000, HFRepo: "TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF",
		HFFile: "tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf", ContextSize: 2048},
	{Name: "phi3", Description: "Phi-3 Mini 4K instruct", Modality: domain.ModalityText,
		SizeBytes: 2_200_000_000, HFRepo: "microsoft/Phi-3-mini-4k-instruct-gguf",
		HFFile: "Phi-3-mini-4k-instruct-q4.gguf", ContextSize: 4096},
	{Name: "qwen2.5", Description: "Qwen2.5 7B instruct", Modality: domain.ModalityText,
		SizeBytes: 4_700_000_000, HFRepo: "Qwen/Qwen2.5-7B-Instruct-GGUF",
		HFFile: "qwen2.5-7b-instruct-q4_k_m.gguf", ContextSize: 8192},
	{Name: "llama3", Description: "Llama 3 8B instruct", Modality: domain.ModalityText,
		SizeBytes: 4_900_000_000, HFRepo: "meta-llama/Meta-Llama-3-8B-Instruct-GGUF",
		HFFile: "llama-3-8b-instruct.Q4_K_M.gguf", ContextSize: 8192},
}

// LookupCatalog scans the builtin catalog for a name match.
func LookupCatalog(name string) (CatalogEntry, bool) {
	name = strings.ToLower(name)
	for _, e := range BuiltinCatalog {
		if e.Name == name {
			return e, true
		}
	}
	return CatalogEntry{}, false
}
