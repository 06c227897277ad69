package embed

import (
	"github.com/daulet/tokenizers"
)

// tokenizer wraps a HuggingFace tokenizer file and pads/truncates to a
// fixed sequence length for the ONNX text tower.
type tokenizer struct {
	tk *tokenizers.Tokenizer
}

func newTokenizer(path string) (*tokenizer, error) {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, err
	}
	return &tokenizer{tk: tk}, nil
}

// Encode returns fixed-length input id and attention mask slices.
func (t *tokenizer) Encode(text string, maxLen int) ([]int64, []int64) {
	ids, _ := t.tk.Encode(text, true)

	inputIDs := make([]int64, maxLen)
	mask := make([]int64, maxLen)

	for i := 0; i < len(ids) && i < maxLen; i++ {
		inputIDs[i] = int64(ids[i])
		mask[i] = 1
	}
	return inputIDs, mask
}

func (t *tokenizer) Close() {
	t.tk.Close()
}
